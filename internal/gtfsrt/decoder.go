package gtfsrt

import (
	"fmt"

	pb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"
)

// DecodeError is returned when protobuf parsing fails.
type DecodeError struct {
	FeedType string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("failed to decode %s protobuf: %v", e.FeedType, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode parses raw protobuf bytes into a FeedMessage. Zero-length input
// decodes to an empty feed (no entities, zero timestamp); only malformed
// bytes are an error. AllowPartial skips the proto2 required-field check so
// an empty payload is not rejected for its missing header.
func Decode(data []byte, feedType string) (*pb.FeedMessage, error) {
	feed := &pb.FeedMessage{}
	if err := (proto.UnmarshalOptions{AllowPartial: true}).Unmarshal(data, feed); err != nil {
		return nil, &DecodeError{FeedType: feedType, Err: err}
	}
	return feed, nil
}

// FeedTimestamp returns the header timestamp in unix seconds, 0 if unset.
func FeedTimestamp(feed *pb.FeedMessage) int64 {
	if feed == nil || feed.Header == nil {
		return 0
	}
	return int64(feed.Header.GetTimestamp())
}

// EntityCount returns the number of entities in the feed.
func EntityCount(feed *pb.FeedMessage) int {
	if feed == nil {
		return 0
	}
	return len(feed.Entity)
}
