package deploy_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ecr"
	"github.com/aws/aws-sdk-go-v2/service/ecr/types"
	"github.com/stretchr/testify/require"

	"github.com/bitmakerla/estela-entrypoint/internal/deploy"
)

// fakeECR keeps image manifests by repository and tag.
type fakeECR struct {
	mx     sync.Mutex
	images map[string]map[string]string
}

func newFakeECR(repository string, tags map[string]string) *fakeECR {
	return &fakeECR{images: map[string]map[string]string{repository: tags}}
}

func (f *fakeECR) repo(name *string) (map[string]string, error) {
	repo, ok := f.images[aws.ToString(name)]
	if !ok {
		return nil, &types.RepositoryNotFoundException{Message: aws.String("repository not found")}
	}
	return repo, nil
}

func (f *fakeECR) BatchGetImage(_ context.Context, in *ecr.BatchGetImageInput, _ ...func(*ecr.Options)) (*ecr.BatchGetImageOutput, error) {
	f.mx.Lock()
	defer f.mx.Unlock()
	repo, err := f.repo(in.RepositoryName)
	if err != nil {
		return nil, err
	}
	out := &ecr.BatchGetImageOutput{}
	for _, id := range in.ImageIds {
		if manifest, ok := repo[aws.ToString(id.ImageTag)]; ok {
			out.Images = append(out.Images, types.Image{
				ImageId:       &types.ImageIdentifier{ImageTag: id.ImageTag},
				ImageManifest: aws.String(manifest),
			})
		}
	}
	return out, nil
}

func (f *fakeECR) PutImage(_ context.Context, in *ecr.PutImageInput, _ ...func(*ecr.Options)) (*ecr.PutImageOutput, error) {
	f.mx.Lock()
	defer f.mx.Unlock()
	repo, err := f.repo(in.RepositoryName)
	if err != nil {
		return nil, err
	}
	repo[aws.ToString(in.ImageTag)] = aws.ToString(in.ImageManifest)
	return &ecr.PutImageOutput{}, nil
}

func (f *fakeECR) BatchDeleteImage(_ context.Context, in *ecr.BatchDeleteImageInput, _ ...func(*ecr.Options)) (*ecr.BatchDeleteImageOutput, error) {
	f.mx.Lock()
	defer f.mx.Unlock()
	repo, err := f.repo(in.RepositoryName)
	if err != nil {
		return nil, err
	}
	out := &ecr.BatchDeleteImageOutput{}
	for _, id := range in.ImageIds {
		tag := aws.ToString(id.ImageTag)
		if _, ok := repo[tag]; ok {
			delete(repo, tag)
			out.ImageIds = append(out.ImageIds, id)
		}
	}
	return out, nil
}

func (f *fakeECR) tags(repository string) map[string]string {
	f.mx.Lock()
	defer f.mx.Unlock()
	ret := make(map[string]string)
	for k, v := range f.images[repository] {
		ret[k] = v
	}
	return ret
}

func TestImages(t *testing.T) {
	t.Parallel()
	fake := newFakeECR("estela", map[string]string{
		"estela_10_candidate": `{"schemaVersion":2}`,
	})
	images := deploy.NewImages(fake, "")

	require.NoError(t, images.Promote(t.Context(), "10"))
	require.Equal(t, map[string]string{
		"estela_10_candidate": `{"schemaVersion":2}`,
		"estela_10":           `{"schemaVersion":2}`,
	}, fake.tags("estela"))

	deleted, err := images.Cleanup(t.Context(), "10")
	require.NoError(t, err)
	require.True(t, deleted)
	deleted, err = images.Cleanup(t.Context(), "10")
	require.NoError(t, err)
	require.False(t, deleted)
	require.Equal(t, map[string]string{"estela_10": `{"schemaVersion":2}`}, fake.tags("estela"))
}

func TestImages_Errors(t *testing.T) {
	t.Parallel()
	fake := newFakeECR("estela", map[string]string{})

	err := deploy.NewImages(fake, "estela").Promote(t.Context(), "10")
	require.ErrorIs(t, err, deploy.ErrImageNotFound)

	err = deploy.NewImages(fake, "other").Promote(t.Context(), "10")
	var repoErr *types.RepositoryNotFoundException
	require.ErrorAs(t, err, &repoErr)
	require.ErrorContains(t, err, "ecr repository not found: other")
}

func TestImages_ClientFunc(t *testing.T) {
	t.Parallel()
	var calls int
	fake := newFakeECR("estela", map[string]string{"estela_10_candidate": "m"})
	images := deploy.NewImagesFunc(func(context.Context) (deploy.ECRAPI, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("no credentials")
		}
		return fake, nil
	}, "")
	require.Zero(t, calls)

	err := images.Promote(t.Context(), "10")
	require.EqualError(t, err, "creating ecr client: no credentials")
	require.NoError(t, images.Promote(t.Context(), "10"))
	deleted, err := images.Cleanup(t.Context(), "10")
	require.NoError(t, err)
	require.True(t, deleted)
	require.Equal(t, 2, calls)
	require.Equal(t, map[string]string{"estela_10": "m"}, fake.tags("estela"))
}
