package services

import (
	"bytes"
	"fmt"
	"image/png"
	"strings"

	"github.com/skip2/go-qrcode"
)

const defaultQRSize = 256

// QRService renders equipment QR codes that point at the public equipment page
type QRService struct {
	baseURL string
	size    int
}

func NewQRService(baseURL string) *QRService {
	return &QRService{
		baseURL: strings.TrimRight(baseURL, "/"),
		size:    defaultQRSize,
	}
}

// EquipmentURL is the address encoded into an equipment QR code
func (s *QRService) EquipmentURL(equipmentID int64) string {
	return fmt.Sprintf("%s/equipment/%d", s.baseURL, equipmentID)
}

// EquipmentPNG returns the QR code for an equipment item as PNG bytes
func (s *QRService) EquipmentPNG(equipmentID int64) ([]byte, error) {
	qr, err := qrcode.New(s.EquipmentURL(equipmentID), qrcode.Medium)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, qr.Image(s.size)); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}
