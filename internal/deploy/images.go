package deploy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecr/types"
)

const DefaultRepositoryName = "estela"

var ErrImageNotFound = errors.New("image not found")

// ECRAPI is the part of the ECR client used by Images.
type ECRAPI interface {
	BatchGetImage(ctx context.Context, params *ecr.BatchGetImageInput, optFns ...func(*ecr.Options)) (*ecr.BatchGetImageOutput, error)
	PutImage(ctx context.Context, params *ecr.PutImageInput, optFns ...func(*ecr.Options)) (*ecr.PutImageOutput, error)
	BatchDeleteImage(ctx context.Context, params *ecr.BatchDeleteImageInput, optFns ...func(*ecr.Options)) (*ecr.BatchDeleteImageOutput, error)
}

// ClientFunc creates the ECR client on first use.
type ClientFunc func(ctx context.Context) (ECRAPI, error)

// NewECRClient creates an ECR client from the default AWS configuration
// chain (environment, shared config, instance role).
func NewECRClient(ctx context.Context) (ECRAPI, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading aws config: %w", err)
	}
	return ecr.NewFromConfig(cfg), nil
}

// Images retags project images in an ECR repository. Every project has a
// candidate image pushed by the build and a production image used by jobs.
type Images struct {
	mx         sync.Mutex
	newClient  ClientFunc
	client     ECRAPI
	repository string
}

func NewImages(client ECRAPI, repository string) *Images {
	return NewImagesFunc(func(context.Context) (ECRAPI, error) {
		return client, nil
	}, repository)
}

// NewImagesFunc defers creating the client until an image operation runs,
// so a broken AWS configuration fails the operation and not the caller.
func NewImagesFunc(newClient ClientFunc, repository string) *Images {
	if repository == "" {
		repository = DefaultRepositoryName
	}
	return &Images{
		newClient:  newClient,
		repository: repository,
	}
}

func (i *Images) getClient(ctx context.Context) (ECRAPI, error) {
	i.mx.Lock()
	defer i.mx.Unlock()
	if i.client != nil {
		return i.client, nil
	}
	client, err := i.newClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating ecr client: %w", err)
	}
	i.client = client
	return client, nil
}

func CandidateTag(pid string) string {
	return "estela_" + pid + "_candidate"
}

func ProductionTag(pid string) string {
	return "estela_" + pid
}

// Promote tags the manifest of the candidate image as the production image.
func (i *Images) Promote(ctx context.Context, pid string) error {
	candidate, production := CandidateTag(pid), ProductionTag(pid)
	slog.InfoContext(ctx, "promoting image",
		"candidate", candidate,
		"production", production,
		"repository", i.repository)

	client, err := i.getClient(ctx)
	if err != nil {
		return err
	}
	out, err := client.BatchGetImage(ctx, &ecr.BatchGetImageInput{
		RepositoryName: aws.String(i.repository),
		ImageIds:       []types.ImageIdentifier{{ImageTag: aws.String(candidate)}},
	})
	if err != nil {
		return i.wrap(err, candidate)
	}
	if len(out.Images) == 0 || out.Images[0].ImageManifest == nil {
		return fmt.Errorf("%w: %s in repository %s", ErrImageNotFound, candidate, i.repository)
	}

	_, err = client.PutImage(ctx, &ecr.PutImageInput{
		RepositoryName:         aws.String(i.repository),
		ImageManifest:          out.Images[0].ImageManifest,
		ImageManifestMediaType: out.Images[0].ImageManifestMediaType,
		ImageTag:               aws.String(production),
	})
	if err != nil {
		return i.wrap(err, production)
	}
	slog.InfoContext(ctx, "image promoted", "production", production)
	return nil
}

// Cleanup deletes the candidate image. It reports false when there was no
// image to delete.
func (i *Images) Cleanup(ctx context.Context, pid string) (bool, error) {
	candidate := CandidateTag(pid)
	client, err := i.getClient(ctx)
	if err != nil {
		return false, err
	}
	out, err := client.BatchDeleteImage(ctx, &ecr.BatchDeleteImageInput{
		RepositoryName: aws.String(i.repository),
		ImageIds:       []types.ImageIdentifier{{ImageTag: aws.String(candidate)}},
	})
	if err != nil {
		return false, i.wrap(err, candidate)
	}
	return len(out.ImageIds) > 0, nil
}

func (i *Images) wrap(err error, tag string) error {
	var repoErr *types.RepositoryNotFoundException
	var imageErr *types.ImageNotFoundException
	switch {
	case errors.As(err, &repoErr):
		return fmt.Errorf("ecr repository not found: %s: %w", i.repository, err)
	case errors.As(err, &imageErr):
		return fmt.Errorf("%w: %s: %w", ErrImageNotFound, tag, err)
	default:
		return fmt.Errorf("ecr: %w", err)
	}
}
