package abaque

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
)

// DefaultSamples returns a trivial identity-mapping grid (azimuth_dome ==
// azimuth_object at every altitude) spanning the full sky. It exists so a
// core started without a measured sample file on disk still has a usable
// table rather than failing to start entirely — a real installation
// always replaces it with LoadSamples output from an on-site survey.
func DefaultSamples() []Sample {
	return []Sample{
		{AltitudeDeg: 0, AzimuthObjDeg: 0, AzimuthDomeDeg: 0},
		{AltitudeDeg: 0, AzimuthObjDeg: 360, AzimuthDomeDeg: 360},
		{AltitudeDeg: 90, AzimuthObjDeg: 0, AzimuthDomeDeg: 0},
		{AltitudeDeg: 90, AzimuthObjDeg: 360, AzimuthDomeDeg: 360},
	}
}

// LoadSamples reads a CSV file of measured (altitude, azimuth_object,
// azimuth_dome) triples, one header row followed by one sample per line,
// and returns them ready for Build. This is the on-disk form of the
// "sparse scatter of measured triples" the table is built from (§4.7).
func LoadSamples(path string) ([]Sample, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("abaque: open %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = 3

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("abaque: read %s: %w", path, err)
	}
	if len(rows) < 2 {
		return nil, fmt.Errorf("abaque: %s has no sample rows", path)
	}

	samples := make([]Sample, 0, len(rows)-1)
	for i, row := range rows[1:] {
		alt, err := strconv.ParseFloat(row[0], 64)
		if err != nil {
			return nil, fmt.Errorf("abaque: %s row %d: invalid altitude %q: %w", path, i+2, row[0], err)
		}
		azObj, err := strconv.ParseFloat(row[1], 64)
		if err != nil {
			return nil, fmt.Errorf("abaque: %s row %d: invalid azimuth_object %q: %w", path, i+2, row[1], err)
		}
		azDome, err := strconv.ParseFloat(row[2], 64)
		if err != nil {
			return nil, fmt.Errorf("abaque: %s row %d: invalid azimuth_dome %q: %w", path, i+2, row[2], err)
		}
		samples = append(samples, Sample{
			AltitudeDeg:    alt,
			AzimuthObjDeg:  azObj,
			AzimuthDomeDeg: azDome,
		})
	}
	return samples, nil
}
