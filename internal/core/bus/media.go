// This file defines the interfaces between the relay and its collaborators:
// subscriber sinks, recorders and recorded-media readers.

package bus

// Sink receives media forwarded by a Subscriber.
type Sink interface {
	WriteMedia(msg *MediaMessage) error
}

// UnpublishNotifier is implemented by sinks that want to know when the
// publisher they follow goes away.
type UnpublishNotifier interface {
	OnUnpublish()
}

// Recorder persists published media.
type Recorder interface {
	Write(msg *MediaMessage) error
	Close() error
}

// Deserializer reads recorded media in timestamp order.
type Deserializer interface {
	// MetaData, VideoHeader and AudioHeader return nil when absent.
	MetaData() *MediaMessage
	VideoHeader() *MediaMessage
	AudioHeader() *MediaMessage
	// Seek positions the reader on the last video keyframe at or before ms,
	// or on the first sample when there is none, and returns its timestamp.
	Seek(ms uint32) (uint32, error)
	// ReadNext returns the next sample, or io.EOF at the end.
	ReadNext() (*MediaMessage, error)
	Close() error
}
