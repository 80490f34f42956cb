// This file implements Reader, a seekable FLV file source for VOD playback.
// Opening a file scans its tag headers once to build an index; tag bodies
// are read lazily as playback advances.

package flv

import (
	"fmt"
	"io"
	"os"

	"amsd/internal/core/bus"
)

type tagEntry struct {
	tagType  byte
	ts       uint32
	offset   int64 // start of the tag body
	size     uint32
	keyframe bool
	header   bool // cached codec header or metadata, not replayed by ReadNext
}

// Reader reads an FLV file in tag order. It implements bus.Deserializer.
// Not safe for concurrent use.
type Reader struct {
	r      io.ReaderAt
	closer io.Closer
	index  []tagEntry
	pos    int

	meta        *bus.MediaMessage
	videoHeader *bus.MediaMessage
	audioHeader *bus.MediaMessage
}

// Open opens and indexes an FLV file.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	rd, err := NewReader(f, st.Size(), f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("flv %s: %w", path, err)
	}
	return rd, nil
}

// NewReader indexes size bytes of FLV data from r. closer may be nil.
// A truncated final tag is ignored.
func NewReader(r io.ReaderAt, size int64, closer io.Closer) (*Reader, error) {
	head := make([]byte, FLVHeaderSize)
	if _, err := r.ReadAt(head, 0); err != nil {
		return nil, ErrInvalidHeader
	}
	_, dataOffset, err := ParseHeader(head)
	if err != nil {
		return nil, err
	}

	rd := &Reader{r: r, closer: closer}
	buf := make([]byte, TagHeaderSize+2)
	off := int64(dataOffset) + 4
	for off+TagHeaderSize <= size {
		n, _ := r.ReadAt(buf, off)
		if n < TagHeaderSize {
			break
		}
		th, _ := ParseTagHeader(buf)
		body := off + TagHeaderSize
		if body+int64(th.DataSize) > size {
			break
		}
		e := tagEntry{tagType: th.Type, ts: th.Timestamp, offset: body, size: th.DataSize}
		if th.Type == TagTypeVideo && th.DataSize >= 1 {
			e.keyframe = IsVideoKeyframe(buf[TagHeaderSize:n])
		}
		rd.index = append(rd.index, e)
		off = body + int64(th.DataSize) + 4
	}

	if err := rd.loadHeaders(); err != nil {
		return nil, err
	}
	return rd, nil
}

// Codec headers and metadata are expected at the start of a file.
const headerScanLimit = 128

// loadHeaders caches the first metadata, video header and audio header.
func (rd *Reader) loadHeaders() error {
	for i := range rd.index[:min(len(rd.index), headerScanLimit)] {
		e := &rd.index[i]
		if e.tagType == TagTypeScript && rd.meta != nil {
			continue
		}
		if e.tagType == TagTypeVideo && (rd.videoHeader != nil || !e.keyframe) {
			continue
		}
		if e.tagType == TagTypeAudio && rd.audioHeader != nil {
			continue
		}
		msg, err := rd.read(e)
		if err != nil {
			return err
		}
		if msg == nil {
			continue
		}
		switch {
		case msg.IsMetadata():
			rd.meta = msg
		case msg.IsVideoHeader():
			rd.videoHeader = msg
		case msg.IsAudioHeader():
			rd.audioHeader = msg
		default:
			continue
		}
		e.header = true
		if rd.meta != nil && rd.videoHeader != nil && rd.audioHeader != nil {
			break
		}
	}
	return nil
}

func (rd *Reader) read(e *tagEntry) (*bus.MediaMessage, error) {
	data := make([]byte, e.size)
	if _, err := rd.r.ReadAt(data, e.offset); err != nil && err != io.EOF {
		return nil, err
	}
	return DemuxTag(e.tagType, e.ts, data), nil
}

// MetaData returns the first script tag, or nil.
func (rd *Reader) MetaData() *bus.MediaMessage { return rd.meta }

// VideoHeader returns the first video sequence header, or nil.
func (rd *Reader) VideoHeader() *bus.MediaMessage { return rd.videoHeader }

// AudioHeader returns the first audio sequence header, or nil.
func (rd *Reader) AudioHeader() *bus.MediaMessage { return rd.audioHeader }

// Duration returns the timestamp of the last tag.
func (rd *Reader) Duration() uint32 {
	if len(rd.index) == 0 {
		return 0
	}
	return rd.index[len(rd.index)-1].ts
}

// Seek positions the reader on the last video keyframe at or before ms.
// Files without video seek to the last tag at or before ms. When nothing
// qualifies the reader restarts from the first tag.
func (rd *Reader) Seek(ms uint32) (uint32, error) {
	keyframe, last := -1, -1
	hasVideo := false
	for i, e := range rd.index {
		if e.tagType == TagTypeVideo && !e.header {
			hasVideo = true
		}
		if e.ts > ms {
			continue
		}
		if e.header {
			continue
		}
		last = i
		if e.keyframe {
			keyframe = i
		}
	}
	target := keyframe
	if !hasVideo {
		target = last
	}
	if target < 0 {
		rd.pos = 0
		if len(rd.index) == 0 {
			return 0, nil
		}
		return rd.index[0].ts, nil
	}
	rd.pos = target
	return rd.index[target].ts, nil
}

// ReadNext returns the next tag as a media message, or io.EOF.
func (rd *Reader) ReadNext() (*bus.MediaMessage, error) {
	for rd.pos < len(rd.index) {
		e := &rd.index[rd.pos]
		rd.pos++
		if e.header {
			continue
		}
		msg, err := rd.read(e)
		if err != nil {
			return nil, err
		}
		if msg != nil {
			return msg, nil
		}
	}
	return nil, io.EOF
}

// Close releases the underlying file.
func (rd *Reader) Close() error {
	if rd.closer == nil {
		return nil
	}
	return rd.closer.Close()
}

var _ bus.Deserializer = (*Reader)(nil)
