package datasets

import (
	"bufio"
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nvr-ai/go-seg/images"
	"github.com/pkg/errors"
)

// Layout describes where a dataset keeps images and annotations.
type Layout struct {
	// ImageDir and AnnDir are relative to the root; "{set}" is replaced.
	ImageDir string
	AnnDir   string
	// ImageSuffix and AnnSuffix turn a sample id into file names.
	ImageSuffix string
	AnnSuffix   string
	// SplitFile lists sample ids one per line. Empty means every image
	// under ImageDir, found recursively.
	SplitFile string
	// Classes names the labels; its length is the default class count.
	Classes ClassSet
	// Remap converts raw annotation values to label values. Nil keeps them.
	Remap func(int32) int32
}

// LayoutFor returns the preset layout of a dataset type.
func LayoutFor(t Type) (Layout, error) {
	switch t {
	case TypeVOC:
		return Layout{
			ImageDir:    "JPEGImages",
			AnnDir:      "SegmentationClass",
			ImageSuffix: ".jpg",
			AnnSuffix:   ".png",
			SplitFile:   "ImageSets/Segmentation/{set}.txt",
			Classes:     VOCClasses,
		}, nil
	case TypeADE20K:
		return Layout{
			ImageDir:    "images/{set}",
			AnnDir:      "annotations/{set}",
			ImageSuffix: ".jpg",
			AnnSuffix:   ".png",
			Classes:     ClassSet{Name: "ade20k", Classes: make([]string, 150)},
			Remap:       reduceZeroLabel,
		}, nil
	case TypeCityscapes:
		return Layout{
			ImageDir:    "leftImg8bit/{set}",
			AnnDir:      "gtFine/{set}",
			ImageSuffix: "_leftImg8bit.png",
			AnnSuffix:   "_gtFine_labelIds.png",
			Classes:     CityscapesClasses,
			Remap:       cityscapesTrainID,
		}, nil
	case TypeFolder, "":
		return Layout{
			ImageDir:    "images",
			AnnDir:      "annotations",
			ImageSuffix: ".jpg",
			AnnSuffix:   ".png",
		}, nil
	default:
		return Layout{}, errors.Wrapf(ErrDataset, "unsupported dataset type %q", t)
	}
}

// reduceZeroLabel drops the "other" label 0 and shifts the rest down.
func reduceZeroLabel(v int32) int32 {
	if v == 0 {
		return 255
	}
	return v - 1
}

func cityscapesTrainID(v int32) int32 {
	if id, ok := cityscapesTrainIDs[v]; ok {
		return id
	}
	return 255
}

// Folder is a dataset of image and annotation files on disk.
type Folder struct {
	imageDir   string
	annDir     string
	layout     Layout
	ids        []string
	numClasses int
	resize     images.Size
	norm       images.Normalization
}

// NewFolder indexes a dataset directory.
//
// Arguments:
//   - cfg: The dataset configuration. Its path fields override the layout.
//   - layout: The directory layout.
//
// Returns:
//   - *Folder: The dataset.
//   - error: ErrDataset if the directory or split file is missing or empty.
func NewFolder(cfg Config, layout Layout) (*Folder, error) {
	if cfg.ImageDir != "" {
		layout.ImageDir = cfg.ImageDir
	}
	if cfg.AnnDir != "" {
		layout.AnnDir = cfg.AnnDir
	}
	if cfg.SplitFile != "" {
		layout.SplitFile = cfg.SplitFile
	}

	expand := func(p string) string {
		return filepath.Join(cfg.RootDir, strings.ReplaceAll(p, "{set}", cfg.Set))
	}

	f := &Folder{
		imageDir:   expand(layout.ImageDir),
		annDir:     expand(layout.AnnDir),
		layout:     layout,
		numClasses: cfg.NumClasses,
		resize:     cfg.Resize,
		norm:       cfg.Normalization,
	}
	if f.numClasses == 0 {
		f.numClasses = len(layout.Classes.Classes)
	}
	if f.numClasses <= 0 {
		return nil, errors.Wrapf(ErrDataset, "number of classes is not set for %q", cfg.Type)
	}
	if len(f.norm.Mean) == 0 && len(f.norm.Std) == 0 {
		f.norm = DefaultNormalization()
	}

	var err error
	if layout.SplitFile != "" {
		f.ids, err = readSplit(expand(layout.SplitFile))
	} else {
		f.ids, err = scanImages(f.imageDir, layout.ImageSuffix)
	}
	if err != nil {
		return nil, err
	}
	if len(f.ids) == 0 {
		return nil, errors.Wrapf(ErrDataset, "no samples found under %s", f.imageDir)
	}
	return f, nil
}

func readSplit(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(ErrDataset, "failed to read split file: %v", err)
	}
	var ids []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		if id := strings.TrimSpace(sc.Text()); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, sc.Err()
}

// scanImages lists ids relative to dir, e.g. "frankfurt/frankfurt_000000_000294".
func scanImages(dir, suffix string) ([]string, error) {
	var ids []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), suffix) {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		ids = append(ids, filepath.ToSlash(strings.TrimSuffix(rel, suffix)))
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(ErrDataset, "failed to scan %s: %v", dir, err)
	}
	sort.Strings(ids)
	return ids, nil
}

// Len returns the number of samples.
func (f *Folder) Len() int {
	return len(f.ids)
}

// NumClasses returns the number of evaluated classes.
func (f *Folder) NumClasses() int {
	return f.numClasses
}

// Classes returns the label names.
func (f *Folder) Classes() ClassSet {
	return f.layout.Classes
}

// ImagePath returns the image file of sample i.
func (f *Folder) ImagePath(i int) string {
	return filepath.Join(f.imageDir, filepath.FromSlash(f.ids[i])+f.layout.ImageSuffix)
}

// AnnotationPath returns the annotation file of sample i.
func (f *Folder) AnnotationPath(i int) string {
	return filepath.Join(f.annDir, filepath.FromSlash(f.ids[i])+f.layout.AnnSuffix)
}

// Get reads, resizes and normalizes sample i.
//
// Arguments:
//   - i: The sample index in [0, Len()).
//
// Returns:
//   - Sample: The sample.
//   - error: The error if any file cannot be read or decoded.
func (f *Folder) Get(i int) (Sample, error) {
	if i < 0 || i >= len(f.ids) {
		return Sample{}, errors.Wrapf(ErrDataset, "index %d out of range [0, %d)", i, len(f.ids))
	}

	data, err := os.ReadFile(f.ImagePath(i))
	if err != nil {
		return Sample{}, errors.Wrapf(err, "failed to read image %s", f.ids[i])
	}
	src := images.Image{Data: data}
	img, err := src.Decode()
	if err != nil {
		return Sample{}, errors.WithMessagef(err, "image %s", f.ids[i])
	}

	size := f.resize
	if !size.Positive() {
		size = images.Size{Height: src.Height, Width: src.Width}
	}
	t, err := images.ToTensor(img, size, f.norm)
	if err != nil {
		return Sample{}, errors.WithMessagef(err, "image %s", f.ids[i])
	}

	ann, err := os.ReadFile(f.AnnotationPath(i))
	if err != nil {
		return Sample{}, errors.Wrapf(err, "failed to read annotation %s", f.ids[i])
	}
	gt, err := images.DecodeLabelMap(ann)
	if err != nil {
		return Sample{}, errors.WithMessagef(err, "annotation %s", f.ids[i])
	}
	if gt.Width != src.Width || gt.Height != src.Height {
		return Sample{}, errors.Wrapf(ErrDataset, "annotation %s is %dx%d, image is %dx%d",
			f.ids[i], gt.Height, gt.Width, src.Height, src.Width)
	}
	if f.layout.Remap != nil {
		for j, v := range gt.Labels {
			gt.Labels[j] = f.layout.Remap(v)
		}
	}

	return Sample{
		Index:       i,
		ID:          f.ids[i],
		Image:       t,
		Width:       src.Width,
		Height:      src.Height,
		GroundTruth: gt,
	}, nil
}

// Evaluate computes segmentation metrics over the folder's classes.
func (f *Folder) Evaluate(preds, gts []images.LabelMap) (Metrics, error) {
	return Evaluate(preds, gts, f.numClasses)
}
