package dataset

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/YuminosukeSato/bikedemand/pkg/errors"
	"github.com/YuminosukeSato/bikedemand/preprocessing"
)

// WriteSubmission writes records as a Kaggle submission with the header
// "datetime,count". Counts are written in the shortest decimal form that
// round-trips, never in exponent notation.
func WriteSubmission(w io.Writer, recs []preprocessing.SubmissionRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{ColDatetime, ColCount}); err != nil {
		return errors.Wrap(err, "write submission header")
	}
	row := make([]string, 2)
	for _, r := range recs {
		row[0] = r.Datetime
		row[1] = strconv.FormatFloat(r.Count, 'f', -1, 64)
		if err := cw.Write(row); err != nil {
			return errors.Wrap(err, "write submission row")
		}
	}
	cw.Flush()
	return errors.WithStack(cw.Error())
}

// SaveSubmission writes records to path, creating its directory if needed.
func SaveSubmission(path string, recs []preprocessing.SubmissionRecord) (err error) {
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
	return WriteSubmission(f, recs)
}
