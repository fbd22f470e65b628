package scan

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/klauspost/compress/zstd"

	"frontline.gg/internal/supply/geom"
)

// MapWorld is a sparse block map. Missing positions read as AIR.
type MapWorld map[geom.Pos]string

func (w MapWorld) Material(x, y, z int) string {
	if m, ok := w[geom.Pos{X: x, Y: y, Z: z}]; ok {
		return m
	}
	return "AIR"
}

type dumpLine struct {
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Z        int    `json:"z"`
	Material string `json:"material"`
}

// LoadWorld reads a block export, one JSON object per line. Files ending in
// .zst are zstd-compressed.
func LoadWorld(path string) (MapWorld, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer dec.Close()
		r = dec
	}
	return ReadWorld(r)
}

func ReadWorld(r io.Reader) (MapWorld, error) {
	w := MapWorld{}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var d dumpLine
		if err := json.Unmarshal([]byte(line), &d); err != nil {
			return nil, fmt.Errorf("world line %d: %w", n, err)
		}
		if d.Material == "" {
			continue
		}
		w[geom.Pos{X: d.X, Y: d.Y, Z: d.Z}] = strings.ToUpper(d.Material)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return w, nil
}
