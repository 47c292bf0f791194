// Package image implements the Image Store: loading and saving one or two
// fixed-size Alto disk images and presenting them as a flat array of pages.
package image

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/xaionaro-go/bytesextra"

	altoerrors "github.com/altofs/altofs/alto/errors"
	"github.com/altofs/altofs/alto/geometry"
	"github.com/altofs/altofs/alto/page"
	"github.com/altofs/altofs/alto/rda"
)

// PathDelimiter separates the two image paths of a dual-drive mount.
const PathDelimiter = ","

// backupSuffix is appended to a save target so the original image is never
// overwritten in place.
const backupSuffix = "~"

// drive holds one drive's bytes and the path it was (or will be) persisted
// to.
type drive struct {
	sourcePath string // path as given to Open, including any ".Z" suffix
	savePath   string // sourcePath with ".Z" stripped, if present
	compressed bool
	stream     io.ReadWriteSeeker
	bytes      []byte
}

// Store is the in-memory image of one or two Alto drives, addressed as a
// single flat VDA space.
type Store struct {
	drives   []*drive
	npages   uint // pages per drive
	geometry rda.Geometry
}

// SplitPaths splits a dual-drive path argument on PathDelimiter. A
// single-drive argument returns a one-element slice.
func SplitPaths(pathArg string) []string {
	return strings.Split(pathArg, PathDelimiter)
}

// Open loads one or two disk images. Errors are always fatal per the spec:
// a bad image refuses the mount rather than proceeding with a partial one.
func Open(paths []string, g rda.Geometry) (*Store, error) {
	if len(paths) != 1 && len(paths) != 2 {
		return nil, altoerrors.NewWithMessage(
			altoerrors.InvalidArgument,
			fmt.Sprintf("expected 1 or 2 image paths, got %d", len(paths)),
		)
	}

	npages := g.NPages()
	wantBytes := int(npages) * geometry.PageBytes

	store := &Store{npages: npages, geometry: g}
	for _, p := range paths {
		d, err := loadDrive(p, wantBytes)
		if err != nil {
			return nil, err
		}
		store.drives = append(store.drives, d)
	}
	return store, nil
}

func loadDrive(path string, wantBytes int) (*drive, error) {
	raw, compressed, savePath, err := readMaybeCompressed(path)
	if err != nil {
		return nil, altoerrors.NewFromError(altoerrors.IoError, err).WithMessage(
			fmt.Sprintf("failed to load image %q", path))
	}

	if len(raw) != wantBytes {
		return nil, altoerrors.NewWithMessage(
			altoerrors.Corrupt,
			fmt.Sprintf(
				"image %q is %d bytes, expected exactly %d",
				path, len(raw), wantBytes,
			),
		)
	}

	return &drive{
		sourcePath: path,
		savePath:   savePath,
		compressed: compressed,
		stream:     bytesextra.NewReadWriteSeeker(raw),
		bytes:      raw,
	}, nil
}

// readMaybeCompressed reads path, transparently decompressing through an
// external process when the name ends in ".Z". It returns the decompressed
// bytes, whether decompression happened, and the path to use for a future
// save (the ".Z" suffix stripped).
func readMaybeCompressed(path string) (data []byte, compressed bool, savePath string, err error) {
	if !strings.HasSuffix(path, ".Z") {
		data, err = os.ReadFile(path)
		return data, false, path, err
	}

	savePath = strings.TrimSuffix(path, ".Z")

	src, err := os.Open(path)
	if err != nil {
		return nil, true, savePath, err
	}
	defer src.Close()

	data, err = decompressExternally(src)
	return data, true, savePath, err
}

// decompressExternally pipes src through whichever external decompressor is
// available on $PATH. The spec is explicit that this must be an external
// process, not an in-repo codec (see DESIGN.md for why the alternative --
// reimplementing the compressor -- was rejected).
func decompressExternally(src io.Reader) ([]byte, error) {
	candidates := [][]string{
		{"gzip", "-dc"},
		{"zcat"},
		{"uncompress", "-c"},
	}

	var lastErr error
	for _, argv := range candidates {
		path, err := exec.LookPath(argv[0])
		if err != nil {
			lastErr = err
			continue
		}

		cmd := exec.Command(path, argv[1:]...)
		cmd.Stdin = src
		out, err := cmd.Output()
		if err == nil {
			return out, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("no external decompressor available: %w", lastErr)
}

// ProbeGeometry reads paths[0] (transparently decompressing a ".Z" image)
// and matches its byte size against the compiled Diablo geometry catalogue,
// so Mount can learn the geometry before Open needs it.
func ProbeGeometry(paths []string) (rda.Geometry, error) {
	if len(paths) == 0 {
		return rda.Geometry{}, altoerrors.NewWithMessage(altoerrors.InvalidArgument, "no image path given")
	}

	raw, _, _, err := readMaybeCompressed(paths[0])
	if err != nil {
		return rda.Geometry{}, altoerrors.NewFromError(altoerrors.IoError, err).WithMessage(
			fmt.Sprintf("failed to probe image %q", paths[0]))
	}

	npages := uint(len(raw)) / geometry.PageBytes
	dg, ok := geometry.MatchByPageCount(npages)
	if !ok {
		return rda.Geometry{}, altoerrors.NewWithMessage(
			altoerrors.Corrupt,
			fmt.Sprintf("image %q's size matches no known Diablo drive geometry", paths[0]),
		)
	}

	return rda.Geometry{NCylinders: dg.NCylinders, NHeads: dg.NHeads, NSectors: dg.NSectors}, nil
}

// NPages returns the number of pages on a single drive.
func (s *Store) NPages() uint {
	return s.npages
}

// NDrives returns the number of loaded drives (1 or 2).
func (s *Store) NDrives() int {
	return len(s.drives)
}

func (s *Store) driveAndOffset(vda rda.VDA) (*drive, int64, error) {
	driveIndex := uint(vda) / s.npages
	if int(driveIndex) >= len(s.drives) {
		return nil, 0, altoerrors.NewWithMessage(
			altoerrors.InvalidArgument,
			fmt.Sprintf("vda %d is out of range for %d loaded drive(s)", vda, len(s.drives)),
		)
	}
	offsetInDrive := int64(uint(vda)%s.npages) * geometry.PageBytes
	return s.drives[driveIndex], offsetInDrive, nil
}

// ReadPage returns the decoded page at the given VDA.
func (s *Store) ReadPage(vda rda.VDA) (page.Page, error) {
	d, offset, err := s.driveAndOffset(vda)
	if err != nil {
		return page.Page{}, err
	}

	buf := make([]byte, geometry.PageBytes)
	if _, err := d.stream.Seek(offset, io.SeekStart); err != nil {
		return page.Page{}, altoerrors.NewFromError(altoerrors.IoError, err)
	}
	if _, err := io.ReadFull(d.stream, buf); err != nil {
		return page.Page{}, altoerrors.NewFromError(altoerrors.IoError, err)
	}
	return page.Decode(buf), nil
}

// WritePage encodes and writes p at the given VDA. The write is applied only
// to the in-memory image; nothing touches the underlying file until Save is
// called (the write-back model of §5).
func (s *Store) WritePage(vda rda.VDA, p page.Page) error {
	d, offset, err := s.driveAndOffset(vda)
	if err != nil {
		return err
	}

	buf := p.Encode()
	if _, err := d.stream.Seek(offset, io.SeekStart); err != nil {
		return altoerrors.NewFromError(altoerrors.IoError, err)
	}
	if _, err := d.stream.Write(buf); err != nil {
		return altoerrors.NewFromError(altoerrors.IoError, err)
	}
	return nil
}

// Save flushes every drive's in-memory image to its backup-suffixed path.
// The original file is never overwritten. Save errors are reported but are
// not fatal to the caller's unmount sequence -- the caller decides whether
// to treat a failed flush as fatal.
func (s *Store) Save() error {
	var firstErr error
	for _, d := range s.drives {
		target := d.savePath + backupSuffix
		if err := os.WriteFile(target, d.bytes, 0o644); err != nil {
			wrapped := altoerrors.NewFromError(altoerrors.IoError, err).WithMessage(
				fmt.Sprintf("failed to save image to %q", target))
			if firstErr == nil {
				firstErr = wrapped
			}
		}
	}
	return firstErr
}
