/*
Copyright 2025 The visiontrain Authors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package data

import (
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "image/jpeg"
	_ "image/png"

	"github.com/spf13/cast"

	"github.com/visiontrain/visiontrain/internal/logging"
	"github.com/visiontrain/visiontrain/internal/task"
)

// Default sample keys for image classification parsers.
const (
	ImageKey = "image"
	LabelKey = "label"
	PathKey  = "path"
	IndexKey = "idx"
)

var defaultImageExts = []string{".jpg", ".jpeg", ".png", ".bmp", ".gif"}

// ImageFolderParser reads an image classification dataset laid out as one
// subdirectory per class under a root directory. The directory scan happens
// at construction; image files are opened and decoded lazily in Sample.
//
// Registered as "image_folder" with config keys "root" (required),
// "extensions" (optional list, defaults to common image formats) and the
// usual "transforms" stage list.
type ImageFolderParser struct {
	root      string
	files     []string
	labels    []string
	taskObj   *task.Classification
	transform Transform
}

// NewImageFolderParser scans root for class subdirectories and their image
// files. Hidden entries are skipped; classes with no matching files are
// still part of the task's class list.
func NewImageFolderParser(root string, extensions []string) (*ImageFolderParser, error) {
	if len(extensions) == 0 {
		extensions = defaultImageExts
	}
	extSet := map[string]bool{}
	for _, ext := range extensions {
		extSet[strings.ToLower(ext)] = true
	}
	dirEntries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading dataset root %q: %w", root, err)
	}
	var classNames []string
	for _, entry := range dirEntries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		classNames = append(classNames, entry.Name())
	}
	if len(classNames) == 0 {
		return nil, fmt.Errorf("dataset root %q contains no class subdirectories", root)
	}
	sort.Strings(classNames)

	p := &ImageFolderParser{root: root}
	for _, className := range classNames {
		classDir := filepath.Join(root, className)
		files, err := os.ReadDir(classDir)
		if err != nil {
			return nil, fmt.Errorf("reading class directory %q: %w", classDir, err)
		}
		found := 0
		for _, file := range files {
			if file.IsDir() || !extSet[strings.ToLower(filepath.Ext(file.Name()))] {
				continue
			}
			p.files = append(p.files, filepath.Join(classDir, file.Name()))
			p.labels = append(p.labels, className)
			found++
		}
		if found == 0 {
			logging.Log.Info("class directory contains no usable images", "dir", classDir)
		}
	}
	p.taskObj, err = task.NewClassification(classNames, ImageKey, LabelKey, []string{PathKey, IndexKey})
	if err != nil {
		return nil, err
	}
	logging.Log.V(logging.DEBUG).Info("scanned image folder dataset",
		"root", root, "classes", len(classNames), "samples", len(p.files))
	return p, nil
}

func (p *ImageFolderParser) Len() int { return len(p.files) }

// Sample decodes the image at idx and returns it with its label and path.
func (p *ImageFolderParser) Sample(idx int) (task.Sample, error) {
	if idx < 0 || idx >= len(p.files) {
		return nil, fmt.Errorf("sample index %d out of range [0,%d)", idx, len(p.files))
	}
	path := p.files[idx]
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening image %q: %w", path, err)
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding image %q: %w", path, err)
	}
	sample := task.Sample{
		ImageKey: img,
		LabelKey: p.labels[idx],
		PathKey:  path,
		IndexKey: idx,
	}
	if p.transform != nil {
		return p.transform.Apply(sample)
	}
	return sample, nil
}

func (p *ImageFolderParser) Task() task.Task          { return p.taskObj }
func (p *ImageFolderParser) Transform() Transform     { return p.transform }
func (p *ImageFolderParser) SetTransform(t Transform) { p.transform = t }

// ShareSafe is true: the parser keeps only immutable path/label slices, so
// worker copies may share them.
func (p *ImageFolderParser) ShareSafe() bool { return true }

func (p *ImageFolderParser) Copy() Parser {
	cp := *p
	if p.transform != nil {
		cp.transform = p.transform.Copy()
	}
	return &cp
}

// Labels returns the per-sample class labels without touching any file.
func (p *ImageFolderParser) Labels() []string {
	return append([]string(nil), p.labels...)
}

func init() {
	RegisterParser("image_folder", func(cfg map[string]any) (Parser, error) {
		root, err := cast.ToStringE(cfg["root"])
		if err != nil || root == "" {
			return nil, fmt.Errorf("image_folder parser requires a 'root' path")
		}
		var exts []string
		if raw, ok := cfg["extensions"]; ok && raw != nil {
			if exts, err = cast.ToStringSliceE(raw); err != nil {
				return nil, fmt.Errorf("image_folder 'extensions': %w", err)
			}
		}
		p, err := NewImageFolderParser(root, exts)
		if err != nil {
			return nil, err
		}
		if raw, ok := cfg["transforms"]; ok && raw != nil {
			stages, err := cast.ToSliceE(raw)
			if err != nil {
				return nil, fmt.Errorf("image_folder 'transforms' must be a list: %w", err)
			}
			chain, err := LoadTransforms(stages)
			if err != nil {
				return nil, err
			}
			if len(chain) > 0 {
				p.SetTransform(chain)
			}
		}
		return p, nil
	})
}
