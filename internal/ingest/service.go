package ingest

import (
	"context"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/technosupport/ts-trapnet/internal/data"
	"github.com/technosupport/ts-trapnet/internal/geo"
	"github.com/technosupport/ts-trapnet/internal/health"
	"github.com/technosupport/ts-trapnet/internal/metrics"
	"github.com/technosupport/ts-trapnet/internal/queue"
	"github.com/technosupport/ts-trapnet/internal/storage"
)

// duplicateTolerance is the capture-timestamp window for the near-duplicate
// check on (camera, filename).
const duplicateTolerance = time.Second

type CameraRepo interface {
	UpsertBySerial(ctx context.Context, c *data.Camera) error
	UpdateHealth(ctx context.Context, id uuid.UUID, h data.HealthSnapshot, lat, lon *float64, config map[string]any, reportedAt time.Time) error
	SetStatus(ctx context.Context, id uuid.UUID, status string) error
	TouchImage(ctx context.Context, id uuid.UUID, capturedAt time.Time) error
	SetLocation(ctx context.Context, id uuid.UUID, lat, lon float64) error
}

type ImageRepo interface {
	Insert(ctx context.Context, img *data.Image) error
	ExistsNear(ctx context.Context, cameraID uuid.UUID, filename string, capturedAt time.Time, tolerance time.Duration) (bool, error)
}

type DeploymentRepo interface {
	Current(ctx context.Context, cameraID uuid.UUID) (*data.Deployment, error)
	Open(ctx context.Context, cameraID uuid.UUID, lat, lon float64, startDate time.Time) (*data.Deployment, error)
}

type BlobStore interface {
	Put(ctx context.Context, bucket, objectPath string, blob []byte, contentType string) error
}

type Publisher interface {
	Publish(queueName string, v any) error
}

// Service is the drop-directory ingestion pipeline: validate, parse, dedup,
// upload, record, publish.
type Service struct {
	DropDir     string
	Cameras     CameraRepo
	Images      ImageRepo
	Deployments DeploymentRepo
	Store       BlobStore
	Bus         Publisher

	now func() time.Time
}

func NewService(dropDir string, cameras CameraRepo, images ImageRepo, deployments DeploymentRepo, store BlobStore, bus Publisher) *Service {
	return &Service{
		DropDir:     dropDir,
		Cameras:     cameras,
		Images:      images,
		Deployments: deployments,
		Store:       store,
		Bus:         bus,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// HandleFile processes one dropped file. Validation failures quarantine the
// file and return nil; anything else (DB down, object store unreachable)
// returns the error and leaves the file in place for retry.
func (s *Service) HandleFile(ctx context.Context, path string) error {
	var err error
	var meta *ExifMetadata

	if strings.EqualFold(filepath.Ext(path), ".txt") {
		err = s.handleReport(ctx, path)
	} else {
		meta, err = s.handleImage(ctx, path)
		if err == nil {
			metrics.RecordImageIngested()
		}
	}
	if err == nil {
		return nil
	}

	if re, ok := AsReject(err); ok {
		log.Printf("[Ingest] %s rejected: %s", filepath.Base(path), re)
		if qErr := Quarantine(s.DropDir, path, re, meta); qErr != nil {
			return qErr
		}
		metrics.RecordImageRejected(re.Reason)
		return nil
	}
	return err
}

func (s *Service) handleImage(ctx context.Context, path string) (*ExifMetadata, error) {
	filename := filepath.Base(path)

	raw, err := ValidateJPEG(path)
	if err != nil {
		return nil, err
	}

	meta := ExtractExif(raw)

	serial, capturedAt, err := ResolveCamera(filename, meta, s.now())
	if err != nil {
		return meta, err
	}

	cam := &data.Camera{
		Serial: serial,
		Name:   serial,
		Make:   meta.Make,
		Model:  meta.Model,
	}
	if err := s.Cameras.UpsertBySerial(ctx, cam); err != nil {
		return meta, err
	}

	exists, err := s.Images.ExistsNear(ctx, cam.ID, filename, capturedAt, duplicateTolerance)
	if err != nil {
		return meta, err
	}
	if exists {
		return meta, reject(ReasonDuplicate, "camera %s already has %s at %s", serial, filename, capturedAt.Format(time.RFC3339))
	}

	if meta.GPS != nil {
		if err := s.trackDeployment(ctx, cam, meta.GPS, capturedAt); err != nil {
			return meta, err
		}
	}

	imageID := uuid.New()
	blobPath := storage.CameraBlobPath(serial, capturedAt, imageID, filename)
	if err := s.Store.Put(ctx, storage.BucketRawImages, blobPath, raw, "image/jpeg"); err != nil {
		return meta, err
	}

	var thumbPath *string
	thumb, err := MakeThumbnail(raw)
	if err != nil {
		return meta, err
	}
	if err := s.Store.Put(ctx, storage.BucketThumbnails, blobPath, thumb, "image/jpeg"); err != nil {
		return meta, err
	}
	thumbPath = &blobPath

	img := &data.Image{
		ID:            imageID,
		CameraID:      cam.ID,
		Filename:      filename,
		CapturedAt:    capturedAt,
		StoragePath:   blobPath,
		ThumbnailPath: thumbPath,
		Metadata:      imageMetadata(meta),
	}
	if err := s.Images.Insert(ctx, img); err != nil {
		if errors.Is(err, data.ErrDuplicateImage) {
			return meta, reject(ReasonDuplicate, "unique index hit for %s", filename)
		}
		return meta, err
	}

	if err := s.Cameras.TouchImage(ctx, cam.ID, capturedAt); err != nil {
		return meta, err
	}

	msg := queue.ImageIngested{
		ImageUUID:   imageID.String(),
		StoragePath: blobPath,
		CameraID:    cam.ID.String(),
	}
	if err := s.Bus.Publish(queue.QueueImageIngested, msg); err != nil {
		return meta, err
	}

	if err := os.Remove(path); err != nil {
		log.Printf("[Ingest] source delete %s: %v", filename, err)
	}
	log.Printf("[Ingest] image %s ingested as %s for camera %s", filename, imageID, serial)
	return meta, nil
}

// trackDeployment opens a new deployment period when the image GPS moved more
// than the relocation threshold from the current one.
func (s *Service) trackDeployment(ctx context.Context, cam *data.Camera, pos *LatLon, capturedAt time.Time) error {
	cur, err := s.Deployments.Current(ctx, cam.ID)
	switch {
	case errors.Is(err, data.ErrRecordNotFound):
		if _, err := s.Deployments.Open(ctx, cam.ID, pos.Lat, pos.Lon, capturedAt); err != nil {
			return err
		}
	case err != nil:
		return err
	default:
		if geo.DistanceM(cur.Latitude, cur.Longitude, pos.Lat, pos.Lon) > geo.RelocationThresholdM {
			log.Printf("[Ingest] camera %s relocated, opening deployment period", cam.Serial)
			if _, err := s.Deployments.Open(ctx, cam.ID, pos.Lat, pos.Lon, capturedAt); err != nil {
				return err
			}
		} else {
			return nil
		}
	}
	return s.Cameras.SetLocation(ctx, cam.ID, pos.Lat, pos.Lon)
}

func (s *Service) handleReport(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	report, err := ParseDailyReport(raw)
	if err != nil {
		return err
	}

	cam := &data.Camera{Serial: report.IMEI, IMEI: report.IMEI, Name: report.IMEI}
	if report.CamID != "" {
		cam.Name = report.CamID
	}
	if err := s.Cameras.UpsertBySerial(ctx, cam); err != nil {
		return err
	}

	snapshot := data.HealthSnapshot{
		BatteryPercent: intToFloat(report.BatteryPercent),
		TemperatureC:   report.TemperatureC,
		SignalStrength: report.SignalStrength,
		SDUsedPercent:  intToFloat(report.SDUsedPercent()),
	}

	config := map[string]any{}
	if report.TotalImages != nil {
		config["total_images"] = *report.TotalImages
	}
	if report.SentImages != nil {
		config["sent_images"] = *report.SentImages
	}
	if report.CamID != "" {
		config["cam_id"] = report.CamID
	}

	var lat, lon *float64
	if report.GPS != nil {
		lat, lon = &report.GPS.Lat, &report.GPS.Lon
	}

	if err := s.Cameras.UpdateHealth(ctx, cam.ID, snapshot, lat, lon, config, report.ReportedAt); err != nil {
		return err
	}

	reportedAt := report.ReportedAt
	status := health.StatusFor(&reportedAt, s.now())
	if err := s.Cameras.SetStatus(ctx, cam.ID, status); err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		log.Printf("[Ingest] report delete %s: %v", filepath.Base(path), err)
	}
	log.Printf("[Ingest] daily report for camera %s applied (reported %s)", report.IMEI, report.ReportedAt.Format(time.RFC3339))
	return nil
}

// imageMetadata builds the JSON metadata blob stored with the image row.
func imageMetadata(meta *ExifMetadata) map[string]any {
	out := map[string]any{}
	if meta.GPS != nil {
		out["gps"] = map[string]any{"lat": meta.GPS.Lat, "lon": meta.GPS.Lon}
	}
	if len(meta.Raw) > 0 {
		out["exif"] = meta.Raw
	}
	return out
}

func intToFloat(v *int) *float64 {
	if v == nil {
		return nil
	}
	f := float64(*v)
	return &f
}
