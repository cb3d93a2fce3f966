package api

import (
	"net/http"
	"sort"
	"time"

	gtfs "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"
)

// handleGTFSRT serves the fleet's latest positions as a GTFS-RT
// VehiclePositions feed for third-party consumers.
func (s *Server) handleGTFSRT(w http.ResponseWriter, r *http.Request) {
	recs := s.positions.Latest()
	sort.Slice(recs, func(i, j int) bool { return recs[i].VehicleID < recs[j].VehicleID })
	enriched := s.enrich.EnrichBulk(r.Context(), recs)

	feed := &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Incrementality:      gtfs.FeedHeader_FULL_DATASET.Enum(),
			Timestamp:           proto.Uint64(uint64(time.Now().Unix())),
		},
	}

	for _, ep := range enriched {
		rec := ep.Position

		descriptor := &gtfs.VehicleDescriptor{Id: proto.String(rec.VehicleID)}
		if ep.Facts != nil {
			if ep.Facts.BusNumber != "" {
				descriptor.Label = proto.String(ep.Facts.BusNumber)
			}
			if ep.Facts.LicensePlate != "" {
				descriptor.LicensePlate = proto.String(ep.Facts.LicensePlate)
			}
		}

		vp := &gtfs.VehiclePosition{
			Vehicle: descriptor,
			Position: &gtfs.Position{
				Latitude:  proto.Float32(float32(rec.Latitude)),
				Longitude: proto.Float32(float32(rec.Longitude)),
				Bearing:   proto.Float32(float32(rec.HeadingDeg)),
				// GTFS-RT carries speed in meters per second.
				Speed: proto.Float32(float32(rec.SpeedKmh / 3.6)),
			},
			Timestamp: proto.Uint64(uint64(rec.Timestamp.Unix())),
		}
		if ep.Facts != nil && ep.Facts.Line != nil {
			vp.Trip = &gtfs.TripDescriptor{RouteId: proto.String(ep.Facts.Line.ID)}
		}

		feed.Entity = append(feed.Entity, &gtfs.FeedEntity{
			Id:      proto.String(rec.VehicleID),
			Vehicle: vp,
		})
	}

	payload, err := proto.Marshal(feed)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to serialize GTFS-RT feed")
		writeError(w, http.StatusInternalServerError, "failed to serialize feed")
		return
	}

	w.Header().Set("Content-Type", "application/x-protobuf")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}
