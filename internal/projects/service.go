package projects

import (
	"context"
	"errors"
	"log"

	"github.com/google/uuid"

	"github.com/technosupport/ts-trapnet/internal/data"
	"github.com/technosupport/ts-trapnet/internal/queue"
	"github.com/technosupport/ts-trapnet/internal/storage"
)

var (
	ErrNameRequired     = errors.New("project name required")
	ErrInvalidThreshold = errors.New("detection threshold must be within [0,1]")
)

type Repository interface {
	Create(ctx context.Context, p *data.Project) error
	GetByID(ctx context.Context, id uuid.UUID) (*data.Project, error)
	Update(ctx context.Context, p *data.Project) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context) ([]*data.Project, error)
}

type ImageRepo interface {
	ListIDsByProject(ctx context.Context, projectID uuid.UUID) ([]uuid.UUID, error)
}

type CameraRepo interface {
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]*data.Camera, error)
}

type Publisher interface {
	Publish(queueName string, v any) error
}

type BlobStore interface {
	List(ctx context.Context, bucket, prefix string) ([]string, error)
	Delete(ctx context.Context, bucket, objectPath string) error
}

type Service struct {
	repo    Repository
	images  ImageRepo
	cameras CameraRepo
	bus     Publisher
	store   BlobStore
}

func NewService(repo Repository, images ImageRepo, cameras CameraRepo, bus Publisher, store BlobStore) *Service {
	return &Service{repo: repo, images: images, cameras: cameras, bus: bus, store: store}
}

func validate(p *data.Project) error {
	if p.Name == "" {
		return ErrNameRequired
	}
	if p.DetectionThreshold < 0 || p.DetectionThreshold > 1 {
		return ErrInvalidThreshold
	}
	if p.IndependenceMinutes <= 0 {
		p.IndependenceMinutes = 30
	}
	return nil
}

func (s *Service) Create(ctx context.Context, p *data.Project) error {
	if err := validate(p); err != nil {
		return err
	}
	if p.DetectionThreshold == 0 {
		p.DetectionThreshold = 0.5
	}
	return s.repo.Create(ctx, p)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*data.Project, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]*data.Project, error) {
	return s.repo.List(ctx)
}

// Update persists the project and, when the species list changed, fans out a
// classification-reprocess message per classified image so stored top-1 rows
// are recomputed against the new filter.
func (s *Service) Update(ctx context.Context, p *data.Project) error {
	if err := validate(p); err != nil {
		return err
	}

	prev, err := s.repo.GetByID(ctx, p.ID)
	if err != nil {
		return err
	}
	if err := s.repo.Update(ctx, p); err != nil {
		return err
	}

	if speciesChanged(prev.IncludedSpecies, p.IncludedSpecies) {
		excluded := excludedSpecies(prev.IncludedSpecies, p.IncludedSpecies)
		ids, err := s.images.ListIDsByProject(ctx, p.ID)
		if err != nil {
			return err
		}
		for _, imageID := range ids {
			msg := queue.ClassificationReprocess{
				ImageUUID:       imageID.String(),
				ProjectID:       p.ID.String(),
				ExcludedSpecies: excluded,
			}
			if err := s.bus.Publish(queue.QueueClassificationReprocess, msg); err != nil {
				// Keep going: a missed image can be reprocessed manually.
				log.Printf("[Projects] reprocess publish for image %s failed: %v", imageID, err)
			}
		}
		log.Printf("[Projects] species list changed on %s, queued %d images for reprocess", p.ID, len(ids))
	}
	return nil
}

// Delete removes the project and every blob owned by its cameras. The DB
// cascade handles rows; blobs must be cleaned explicitly.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	cams, err := s.cameras.ListByProject(ctx, id)
	if err != nil {
		return err
	}
	for _, cam := range cams {
		for _, bucket := range []string{storage.BucketRawImages, storage.BucketThumbnails, storage.BucketCrops} {
			paths, err := s.store.List(ctx, bucket, cam.Serial+"/")
			if err != nil {
				return err
			}
			for _, p := range paths {
				if err := s.store.Delete(ctx, bucket, p); err != nil {
					log.Printf("[Projects] blob delete %s/%s failed: %v", bucket, p, err)
				}
			}
		}
	}
	return s.repo.Delete(ctx, id)
}

func speciesChanged(a, b []string) bool {
	if len(a) != len(b) {
		return true
	}
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := set[s]; !ok {
			return true
		}
	}
	return false
}

// excludedSpecies lists species that were allowed before but are not now.
// With an empty new list (= all species) nothing is excluded.
func excludedSpecies(prev, next []string) []string {
	if len(next) == 0 {
		return []string{}
	}
	allowed := make(map[string]struct{}, len(next))
	for _, s := range next {
		allowed[s] = struct{}{}
	}
	var out []string
	for _, s := range prev {
		if _, ok := allowed[s]; !ok {
			out = append(out, s)
		}
	}
	if out == nil {
		out = []string{}
	}
	return out
}
