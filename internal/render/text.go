package render

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/MrWong99/voxplot/internal/feature"
)

// WriteText writes one "x y" row per voiced point, both values with two
// decimals. Points without a value are omitted.
func WriteText(w io.Writer, points []feature.Point) error {
	bw := bufio.NewWriter(w)
	for _, p := range points {
		if !p.Voiced {
			continue
		}
		if _, err := fmt.Fprintf(bw, "%.2f %.2f\n", p.X, p.Y); err != nil {
			return &IOError{Op: "write text", Err: err}
		}
	}
	if err := bw.Flush(); err != nil {
		return &IOError{Op: "write text", Err: err}
	}
	return nil
}

// WriteTextFile writes the table produced by [WriteText] to path, replacing
// any existing file.
func WriteTextFile(path string, points []feature.Point) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return &IOError{Path: path, Op: "create", Err: err}
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = &IOError{Path: path, Op: "close", Err: cerr}
		}
	}()
	if err := WriteText(f, points); err != nil {
		var ioErr *IOError
		if errors.As(err, &ioErr) {
			ioErr.Path = path
		}
		return err
	}
	return nil
}
