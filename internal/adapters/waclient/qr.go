package waclient

import (
	"bytes"
	"encoding/base64"

	"github.com/mdp/qrterminal/v3"
	"github.com/skip2/go-qrcode"

	"zapgate/platform/logger"
)

// renderQRImage encodes the pairing code as a base64 PNG data URI.
func renderQRImage(code string, log *logger.Logger) string {
	if code == "" {
		return ""
	}

	png, err := qrcode.Encode(code, qrcode.Medium, 256)
	if err != nil {
		log.ErrorWithFields("Failed to render QR image", map[string]interface{}{
			"error": err.Error(),
		})
		return ""
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}

// renderQRASCII renders the pairing code as half-block terminal art, the
// same output developers scan during local runs.
func renderQRASCII(code string) string {
	if code == "" {
		return ""
	}

	var buf bytes.Buffer
	qrterminal.GenerateHalfBlock(code, qrterminal.L, &buf)
	return buf.String()
}
