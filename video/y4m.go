package video

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/microsoft/ZooTracer/zt_errors"
)

const (
	y4mMagic    = "YUV4MPEG2"
	frameMagic  = "FRAME"
	maxHeader   = 1024
	defaultFPS  = 25
	defaultMode = "420jpeg"
)

// Y4M reads uncompressed YUV4MPEG2 files. Only the luma plane is exposed.
type Y4M struct {
	file    *os.File
	info    Info
	offsets []int64
}

// Open maps every frame of a .y4m file. A missing file is ErrNotFound, a
// malformed or unsupported one ErrUnreadable.
func Open(path string) (*Y4M, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", zt_errors.ErrNotFound, path)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", zt_errors.ErrUnreadable, path, err)
	}
	v, err := scan(file, path)
	if err != nil {
		file.Close()
		return nil, err
	}
	return v, nil
}

func unreadable(path, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", zt_errors.ErrUnreadable, path, fmt.Sprintf(format, args...))
}

func chromaSize(mode string, w, h int) (int, bool) {
	cw, ch := (w+1)/2, (h+1)/2
	switch {
	case mode == "mono":
		return 0, true
	case mode == "444":
		return 2 * w * h, true
	case mode == "422":
		return 2 * cw * h, true
	case mode == "420" || mode == "420jpeg" || mode == "420paldv" || mode == "420mpeg2":
		return 2 * cw * ch, true
	}
	return 0, false
}

func scan(file *os.File, path string) (*Y4M, error) {
	st, err := file.Stat()
	if err != nil {
		return nil, unreadable(path, "%v", err)
	}
	size := st.Size()

	header, err := bufio.NewReaderSize(io.NewSectionReader(file, 0, maxHeader), maxHeader).ReadString('\n')
	if err != nil || !strings.HasPrefix(header, y4mMagic) {
		return nil, unreadable(path, "not a YUV4MPEG2 stream")
	}

	info := Info{Path: path, FPS: defaultFPS}
	mode := defaultMode
	for _, tok := range strings.Fields(header[len(y4mMagic):]) {
		val := tok[1:]
		switch tok[0] {
		case 'W':
			info.Width, err = strconv.Atoi(val)
		case 'H':
			info.Height, err = strconv.Atoi(val)
		case 'C':
			mode = val
		case 'F':
			num, den, ok := strings.Cut(val, ":")
			n, e1 := strconv.Atoi(num)
			d, e2 := strconv.Atoi(den)
			if ok && e1 == nil && e2 == nil && n > 0 && d > 0 {
				info.FPS = float64(n) / float64(d)
			}
		}
		if err != nil {
			return nil, unreadable(path, "bad header field %q", tok)
		}
	}
	if info.Width <= 0 || info.Height <= 0 {
		return nil, unreadable(path, "missing frame size")
	}
	chroma, ok := chromaSize(mode, info.Width, info.Height)
	if !ok {
		return nil, unreadable(path, "unsupported colorspace %s", mode)
	}
	info.Codec = "y4m/" + mode
	luma := int64(info.Width * info.Height)
	frameSize := luma + int64(chroma)

	v := &Y4M{file: file}
	off := int64(len(header))
	buf := make([]byte, 256)
	for off < size {
		n, err := file.ReadAt(buf, off)
		if err != nil && err != io.EOF {
			return nil, unreadable(path, "%v", err)
		}
		line := buf[:n]
		nl := bytes.IndexByte(line, '\n')
		if nl < 0 || !bytes.HasPrefix(line, []byte(frameMagic)) {
			return nil, unreadable(path, "bad frame header at offset %d", off)
		}
		data := off + int64(nl) + 1
		if data+frameSize > size {
			// truncated trailing frame
			break
		}
		v.offsets = append(v.offsets, data)
		off = data + frameSize
	}
	if len(v.offsets) == 0 {
		return nil, unreadable(path, "no frames")
	}
	info.Frames = len(v.offsets)
	v.info = info
	return v, nil
}

func (v *Y4M) Info() Info {
	return v.info
}

func (v *Y4M) Frame(i int) (*Frame, error) {
	if i < 0 || i >= len(v.offsets) {
		return nil, fmt.Errorf("%w: %d of %d", zt_errors.ErrBadFrame, i, len(v.offsets))
	}
	f := NewFrame(v.info.Width, v.info.Height)
	if _, err := v.file.ReadAt(f.Pix, v.offsets[i]); err != nil {
		return nil, unreadable(v.info.Path, "frame %d: %v", i, err)
	}
	return f, nil
}

func (v *Y4M) Close() error {
	return v.file.Close()
}

// Encode writes frames as a monochrome YUV4MPEG2 stream.
func Encode(w io.Writer, fps float64, frames []*Frame) error {
	if len(frames) == 0 {
		return errors.New("video: no frames to encode")
	}
	bw := bufio.NewWriter(w)
	f0 := frames[0]
	num, den := int(fps*1000+0.5), 1000
	if _, err := fmt.Fprintf(bw, "%s W%d H%d F%d:%d Ip A1:1 Cmono\n", y4mMagic, f0.Width, f0.Height, num, den); err != nil {
		return err
	}
	for _, f := range frames {
		if f.Width != f0.Width || f.Height != f0.Height {
			return errors.New("video: frames differ in size")
		}
		bw.WriteString(frameMagic + "\n")
		bw.Write(f.Pix)
	}
	return bw.Flush()
}
