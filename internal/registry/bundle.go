package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/openregister/openregister/internal/auth"
	"github.com/openregister/openregister/internal/storage"
	"github.com/openregister/openregister/internal/validation"
)

// ErrNoExportStore is returned by bundle operations when no export store is configured
var ErrNoExportStore = errors.New("no export store configured")

const bundleContentType = "application/json"

// BundleKey is the export store key of a configuration bundle
func BundleKey(configurationUUID, version string) string {
	return path.Join("configurations", configurationUUID, version+".json")
}

// PublishConfiguration exports the configuration and writes the document to
// the export store under its current version. Publishing the same version
// again overwrites the bundle.
func (s *Service) PublishConfiguration(ctx context.Context, id string, actor auth.Actor) (*storage.Object, error) {
	if s.exports == nil {
		return nil, ErrNoExportStore
	}
	if err := requireIdentity(actor, "publish", "configuration"); err != nil {
		return nil, err
	}

	doc, err := s.ExportConfiguration(ctx, id)
	if err != nil {
		return nil, err
	}
	body, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode configuration bundle: %w", err)
	}

	obj, err := s.exports.Put(ctx, BundleKey(doc.Configuration.UUID, doc.Configuration.Version), body, bundleContentType)
	if err != nil {
		return nil, storeErr("write configuration bundle", err)
	}
	return obj, nil
}

// ListConfigurationBundles lists the published bundles of a configuration,
// oldest version first
func (s *Service) ListConfigurationBundles(ctx context.Context, id string) ([]storage.Object, error) {
	if s.exports == nil {
		return nil, ErrNoExportStore
	}
	if !isUUID(id) {
		return nil, notFound("configuration", id)
	}
	objs, err := s.exports.List(ctx, path.Join("configurations", id)+"/")
	if err != nil {
		return nil, storeErr("list configuration bundles", err)
	}
	out := objs[:0]
	for _, o := range objs {
		if strings.HasSuffix(o.Key, ".json") {
			out = append(out, o)
		}
	}
	// keys sort lexically, so 0.0.10 would precede 0.0.9
	sort.SliceStable(out, func(i, j int) bool {
		cmp, err := validation.CompareSemver(bundleVersion(out[i].Key), bundleVersion(out[j].Key))
		if err != nil {
			return out[i].Key < out[j].Key
		}
		return cmp < 0
	})
	return out, nil
}

func bundleVersion(key string) string {
	return strings.TrimSuffix(path.Base(key), ".json")
}

// checkBundleRef rejects unknown configuration ids and malformed versions
// before they reach the export store
func checkBundleRef(id, version string) error {
	if !isUUID(id) {
		return notFound("configuration", id)
	}
	if err := validation.ValidateSemver(version); err != nil {
		return invalidInput("bundle version %q: %v", version, err)
	}
	return nil
}

// ConfigurationBundleURL returns a download URL for a published bundle, valid for ttl
func (s *Service) ConfigurationBundleURL(ctx context.Context, id, version string, ttl time.Duration) (string, error) {
	if s.exports == nil {
		return "", ErrNoExportStore
	}
	if err := checkBundleRef(id, version); err != nil {
		return "", err
	}
	u, err := s.exports.URL(ctx, BundleKey(id, version), ttl)
	if errors.Is(err, storage.ErrNotExist) {
		return "", notFound("configuration bundle", id+"@"+version)
	}
	if err != nil {
		return "", storeErr("sign configuration bundle url", err)
	}
	return u, nil
}

// ImportConfigurationBundle reads a published bundle back from the export
// store and imports it
func (s *Service) ImportConfigurationBundle(ctx context.Context, id, version string, actor auth.Actor) (*ImportSummary, error) {
	if s.exports == nil {
		return nil, ErrNoExportStore
	}
	if err := checkBundleRef(id, version); err != nil {
		return nil, err
	}
	body, obj, err := s.exports.Get(ctx, BundleKey(id, version))
	if errors.Is(err, storage.ErrNotExist) {
		return nil, notFound("configuration bundle", id+"@"+version)
	}
	if err != nil {
		return nil, storeErr("read configuration bundle", err)
	}
	if obj != nil && obj.Checksum != "" && obj.Checksum != storage.Checksum(body) {
		return nil, storeErr("verify configuration bundle", fmt.Errorf("checksum mismatch for %s", obj.Key))
	}

	doc, err := ParseDocument(body)
	if err != nil {
		return nil, err
	}
	return s.Import(ctx, doc, actor)
}
