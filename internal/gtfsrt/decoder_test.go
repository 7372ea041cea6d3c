package gtfsrt

import (
	"errors"
	"testing"

	pb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"

	"transit-reliability/internal/gtfs"
)

func TestDecodeEmptyInput(t *testing.T) {
	feed, err := Decode(nil, gtfs.FeedTripUpdates)
	require.NoError(t, err)
	assert.Equal(t, int64(0), FeedTimestamp(feed))
	assert.Equal(t, 0, EntityCount(feed))

	feed, err = Decode([]byte{}, gtfs.FeedTripUpdates)
	require.NoError(t, err)
	assert.Equal(t, 0, EntityCount(feed))
}

func TestDecodeMalformedInput(t *testing.T) {
	_, err := Decode([]byte("not a protobuf feed at all"), gtfs.FeedServiceAlerts)
	require.Error(t, err)

	var decErr *DecodeError
	require.True(t, errors.As(err, &decErr))
	assert.Equal(t, gtfs.FeedServiceAlerts, decErr.FeedType)
}

func TestDecodeRoundTrip(t *testing.T) {
	src := &pb.FeedMessage{
		Header: &pb.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Timestamp:           proto.Uint64(1770000000),
		},
		Entity: []*pb.FeedEntity{
			{Id: proto.String("e1"), TripUpdate: &pb.TripUpdate{
				Trip: &pb.TripDescriptor{TripId: proto.String("trip-1")},
			}},
			{Id: proto.String("e2"), TripUpdate: &pb.TripUpdate{
				Trip: &pb.TripDescriptor{TripId: proto.String("trip-2")},
			}},
		},
	}
	data, err := proto.Marshal(src)
	require.NoError(t, err)

	feed, err := Decode(data, gtfs.FeedTripUpdates)
	require.NoError(t, err)
	assert.Equal(t, int64(1770000000), FeedTimestamp(feed))
	assert.Equal(t, 2, EntityCount(feed))
}

func TestAccessorsNilFeed(t *testing.T) {
	assert.Equal(t, int64(0), FeedTimestamp(nil))
	assert.Equal(t, 0, EntityCount(nil))
	assert.Equal(t, int64(0), FeedTimestamp(&pb.FeedMessage{}))
}
