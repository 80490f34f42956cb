// This file resolves stream names from publish and play commands into
// registry keys and media file paths.

package rtmp

import (
	"errors"
	"path"
	"path/filepath"
	"strings"
)

// ErrInvalidStreamName is returned for names that would escape the media root.
var ErrInvalidStreamName = errors.New("invalid stream name")

// splitStreamName strips any query and splits an optional "type:" prefix,
// as in "mp4:clip.mp4" or "flv:clip".
func splitStreamName(name string) (typ, file string) {
	if i := strings.IndexByte(name, '?'); i >= 0 {
		name = name[:i]
	}
	if i := strings.IndexByte(name, ':'); i >= 0 {
		return strings.ToLower(name[:i]), name[i+1:]
	}
	return "", name
}

// mediaPath returns the file for name under root/app. ".flv" is added when
// the name has no extension.
func mediaPath(root, app, name string) (string, error) {
	if name == "" || strings.ContainsRune(name, '\\') {
		return "", ErrInvalidStreamName
	}
	for _, part := range strings.Split(app+"/"+name, "/") {
		if part == ".." {
			return "", ErrInvalidStreamName
		}
	}
	rel := path.Clean("/" + app + "/" + name)
	if path.Ext(rel) == "" {
		rel += ".flv"
	}
	return filepath.Join(root, filepath.FromSlash(rel)), nil
}

// isFLV reports whether a stream of type typ stored at file can be played
// by the FLV reader.
func isFLV(typ, file string) bool {
	switch typ {
	case "", "flv":
	default:
		return false
	}
	ext := strings.ToLower(filepath.Ext(file))
	return ext == ".flv"
}
