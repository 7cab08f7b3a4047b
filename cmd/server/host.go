package main

import "net/url"

// hostOf returns the host:port part of a base URL for the swagger spec
func hostOf(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" {
		return "localhost:8080"
	}
	return u.Host
}
