package service

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"imgbatch/worker/validation"
)

// LoadFiles reads every path, expanding directories one level deep. Files
// over the size limit are rejected without being read.
func LoadFiles(paths []string) ([]validation.File, []validation.Rejection) {
	var (
		files    []validation.File
		rejected []validation.Rejection
	)
	for _, path := range expand(paths, &rejected) {
		info, err := os.Stat(path)
		if err != nil {
			rejected = append(rejected, validation.Rejection{Name: filepath.Base(path), Err: err})
			continue
		}
		if info.Size() > validation.MaxFileSize {
			rejected = append(rejected, validation.Rejection{Name: filepath.Base(path), Err: validation.ErrFileTooLarge})
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			rejected = append(rejected, validation.Rejection{Name: filepath.Base(path), Err: fmt.Errorf("read file: %w", err)})
			continue
		}
		files = append(files, validation.File{Name: filepath.Base(path), Data: data})
	}
	return files, rejected
}

func expand(paths []string, rejected *[]validation.Rejection) []string {
	var out []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			*rejected = append(*rejected, validation.Rejection{Name: filepath.Base(path), Err: err})
			continue
		}
		if !info.IsDir() {
			out = append(out, path)
			continue
		}
		entries, err := os.ReadDir(path)
		if err != nil {
			*rejected = append(*rejected, validation.Rejection{Name: filepath.Base(path), Err: err})
			continue
		}
		var names []string
		for _, e := range entries {
			if e.Type().IsRegular() && e.Name()[0] != '.' {
				names = append(names, filepath.Join(path, e.Name()))
			}
		}
		sort.Strings(names)
		out = append(out, names...)
	}
	return out
}
