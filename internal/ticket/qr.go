package ticket

import (
	"encoding/base64"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"
)

// DefaultQRSize is the rendered QR edge length in pixels.
const DefaultQRSize = 256

// PNG renders the payload text as a QR code with medium error correction.
func PNG(p Payload, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultQRSize
	}
	png, err := qrcode.Encode(p.Text, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("render qr: %w", err)
	}
	return png, nil
}

// DataURL renders the payload as an embeddable data:image/png URL.
func DataURL(p Payload, size int) (string, error) {
	png, err := PNG(p, size)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
