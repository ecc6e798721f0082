package ingest

import (
	"os"
	"path/filepath"

	"polaris/pkg/metadata"
	"polaris/pkg/tomoerr"
)

// Layout is the on-disk structure of one acquisition:
//
//	<root>/01-ff/Input/command.json
//	<root>/01-ff/Output/Binaries/ff*.tif
//	<root>/02-tomo/scan_information.json
//	<root>/02-tomo/Input/command.json
//	<root>/02-tomo/Output/Binaries/tomo*.tif
type Layout struct {
	Root string

	ScanInformation string
	TomoCommand     string
	FlatCommand     string

	Projections string
	Flats       string
}

// NewLayout resolves the layout below root.
func NewLayout(root string) Layout {
	tomo := filepath.Join(root, "02-tomo")
	flat := filepath.Join(root, "01-ff")
	return Layout{
		Root:            root,
		ScanInformation: filepath.Join(tomo, "scan_information.json"),
		TomoCommand:     filepath.Join(tomo, "Input", "command.json"),
		FlatCommand:     filepath.Join(flat, "Input", "command.json"),
		Projections:     filepath.Join(tomo, "Output", "Binaries"),
		Flats:           filepath.Join(flat, "Output", "Binaries"),
	}
}

// Check fails with a data-not-found error when the root or one of the
// frame directories is missing.
func (l Layout) Check() error {
	for _, dir := range []string{l.Root, l.Projections, l.Flats} {
		if err := checkDir(dir); err != nil {
			return err
		}
	}
	return nil
}

// ReadRecords loads the three metadata documents of the acquisition.
func (l Layout) ReadRecords() (metadata.Records, error) {
	return metadata.ReadRecords(l.ScanInformation, l.TomoCommand, l.FlatCommand)
}

func checkDir(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return tomoerr.DataNotFound("ingest", dir, err)
	}
	if !info.IsDir() {
		return tomoerr.DataNotFound("ingest", dir, errNotDir)
	}
	return nil
}
