// Package filetype validates intake files by magic bytes, not filename.
// The pipeline only accepts PDF; everything else is rejected at the door.
package filetype

import (
	"fmt"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog/log"
)

// Info describes a detected file.
type Info struct {
	MIMEType  string
	Extension string
	IsPDF     bool
}

// Detect inspects the file's magic bytes.
func Detect(path string) (*Info, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to detect file type: %w", err)
	}

	info := &Info{
		MIMEType:  mtype.String(),
		Extension: mtype.Extension(),
		IsPDF:     mtype.Is("application/pdf"),
	}
	log.Debug().Str("mime", info.MIMEType).Str("ext", info.Extension).Str("file", path).Msg("detected file type")
	return info, nil
}

// CheckPDF returns an error unless the file is a PDF by magic bytes.
func CheckPDF(path string) error {
	info, err := Detect(path)
	if err != nil {
		return err
	}
	if !info.IsPDF {
		return fmt.Errorf("unsupported file type %s (only PDF is accepted)", info.MIMEType)
	}
	return nil
}
