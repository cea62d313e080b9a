package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"klineCrawler/internal/domain"

	"github.com/bytedance/sonic"
)

// WriteSeriesJSON writes every series to path as one JSON object keyed by symbol.
func WriteSeriesJSON(series []domain.SymbolSeries, path string) error {
	out := make(map[string][]domain.Kline, len(series))
	for _, s := range series {
		klines := s.Klines
		if klines == nil {
			klines = []domain.Kline{}
		}
		out[s.Symbol] = klines
	}

	data, err := sonic.ConfigStd.MarshalIndent(out, "", "    ")
	if err != nil {
		return fmt.Errorf("encode series: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ExportSeries picks the format from the file extension. For ".csv" one file per
// symbol is written next to path, named <base>_<SYMBOL>.csv. It returns the files written.
func ExportSeries(series []domain.SymbolSeries, path string) ([]string, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create export directory: %w", err)
		}
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".json":
		if err := WriteSeriesJSON(series, path); err != nil {
			return nil, err
		}
		return []string{path}, nil
	case ".csv":
		base := strings.TrimSuffix(path, filepath.Ext(path))
		files := make([]string, 0, len(series))
		for _, s := range series {
			name := fmt.Sprintf("%s_%s.csv", base, s.Symbol)
			if err := WriteKlinesToCSV(s.Symbol, s.Klines, name); err != nil {
				return files, fmt.Errorf("write %s: %w", name, err)
			}
			files = append(files, name)
		}
		return files, nil
	default:
		return nil, fmt.Errorf("unsupported export format %q (use .json or .csv)", ext)
	}
}
