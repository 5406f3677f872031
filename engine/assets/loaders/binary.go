package loaders

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/nextrender/engine/renderer/metadata"
)

type BinaryLoader struct{}

func (bl *BinaryLoader) Load(path string, assetType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	buf, err := io.ReadAll(f)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}

	return &metadata.Resource{
		Name:     filepath.Base(path),
		FullPath: path,
		Type:     assetType,
		DataSize: uint64(len(buf)),
		Data:     buf,
	}, nil
}

func (bl *BinaryLoader) Unload(r *metadata.Resource) error {
	r.Data = nil
	r.DataSize = 0
	return nil
}
