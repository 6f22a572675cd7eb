// Package workflow binds converter operations to batch runs. Each workflow
// knows how to transform one item, how its outputs are named and what the
// bundled archive is called.
package workflow

import (
	"context"
	"fmt"
	"strings"

	"imgbatch/worker/batch"
	"imgbatch/worker/converter"
	"imgbatch/worker/item"
)

type Kind string

const (
	KindCompress Kind = "compress"
	KindConvert  Kind = "convert"
	KindEdit     Kind = "edit"
)

// Workflow is a batch.Transformer plus its naming rules.
type Workflow interface {
	batch.Transformer
	Kind() Kind
	Options() batch.RunOptions
}

type Compress struct {
	Converter    *converter.Converter
	Quality      int
	MaxDimension int
}

func (w Compress) Kind() Kind { return KindCompress }

func (w Compress) Transform(ctx context.Context, src item.Source) (batch.Output, error) {
	data, err := w.Converter.Compress(ctx, src.Data, w.Quality, w.MaxDimension)
	if err != nil {
		return batch.Output{}, err
	}
	// webp sources come back as jpeg
	out := batch.Output{Data: data}
	if _, ext := batch.SplitName(src.Name); strings.EqualFold(ext, "webp") {
		out.Format = "jpg"
	}
	return out, nil
}

func (w Compress) Options() batch.RunOptions {
	return batch.RunOptions{NameSuffix: "-compressed", ArchiveName: "compressed-images.zip"}
}

type Convert struct {
	Converter *converter.Converter
	Format    string
}

func (w Convert) Kind() Kind { return KindConvert }

func (w Convert) Transform(ctx context.Context, src item.Source) (batch.Output, error) {
	data, err := w.Converter.Convert(ctx, src.Data, w.Format)
	if err != nil {
		return batch.Output{}, err
	}
	return batch.Output{Data: data, Format: strings.ToLower(w.Format)}, nil
}

func (w Convert) Options() batch.RunOptions {
	return batch.RunOptions{ArchiveName: fmt.Sprintf("converted-to-%s.zip", strings.ToLower(w.Format))}
}

type Edit struct {
	Converter *converter.Converter
	Geometry  converter.Geometry
}

func (w Edit) Kind() Kind { return KindEdit }

func (w Edit) Transform(ctx context.Context, src item.Source) (batch.Output, error) {
	data, err := w.Converter.Edit(ctx, src.Data, w.Geometry)
	if err != nil {
		return batch.Output{}, err
	}
	out := batch.Output{Data: data}
	if _, ext := batch.SplitName(src.Name); strings.EqualFold(ext, "webp") {
		out.Format = "png"
	}
	return out, nil
}

func (w Edit) Options() batch.RunOptions {
	return batch.RunOptions{NameSuffix: "_edited", ArchiveName: "edited-images.zip"}
}

// Parse builds the workflow named kind. format is only used by convert.
func Parse(kind string, conv *converter.Converter, format string) (Workflow, error) {
	switch Kind(strings.ToLower(kind)) {
	case KindCompress:
		return Compress{Converter: conv}, nil
	case KindConvert:
		if _, err := converter.NormalizeFormat(format); err != nil {
			return nil, err
		}
		return Convert{Converter: conv, Format: format}, nil
	case KindEdit:
		return Edit{Converter: conv}, nil
	}
	return nil, fmt.Errorf("unknown workflow %q", kind)
}
