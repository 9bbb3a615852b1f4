package workflow

import (
	"os"
	"path/filepath"

	"github.com/YuminosukeSato/bikedemand/automl"
	"github.com/YuminosukeSato/bikedemand/pkg/errors"
)

func savePredictor(path string, p *automl.TabularPredictor) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create directory for %s", path)
	}
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "close %s", path)
		}
	}()
	return errors.Wrapf(p.Save(f), "save predictor %s", path)
}

// LoadPredictor reads a predictor written by a previous run.
func LoadPredictor(path string) (*automl.TabularPredictor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	return automl.Load(f)
}
