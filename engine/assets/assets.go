package assets

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/nextrender/engine/assets/loaders"
	"github.com/spaghettifunk/nextrender/engine/core"
	"github.com/spaghettifunk/nextrender/engine/renderer/metadata"
	"golang.org/x/exp/slices"
)

// ShaderExtension is the file extension of compiled shader binaries.
const ShaderExtension = ".spv"

type AssetInfo struct {
	Name       string
	Path       string
	Type       metadata.ResourceType
	Stage      metadata.ShaderStage
	LastLoaded time.Time
}

type AssetManager struct {
	dir     string
	assets  map[string]AssetInfo
	loaders map[metadata.ResourceType]Loader

	mutex sync.RWMutex

	done     chan struct{}
	wg       sync.WaitGroup
	fsnotify *fsnotify.Watcher
	isClosed bool
	changes  chan AssetInfo
}

// NewAssetManager indexes every shader binary under dir.
func NewAssetManager(dir string) (*AssetManager, error) {
	am := &AssetManager{
		dir:     dir,
		assets:  make(map[string]AssetInfo),
		loaders: make(map[metadata.ResourceType]Loader),
		changes: make(chan AssetInfo, 16),
		done:    make(chan struct{}),
	}

	// Register loaders
	am.registerLoader(metadata.ResourceTypeShader, &loaders.ShaderLoader{})
	am.registerLoader(metadata.ResourceTypeBinary, &loaders.BinaryLoader{})

	if err := am.index(dir); err != nil {
		return nil, err
	}
	core.LogDebug("Indexed %d assets under %s.", len(am.assets), dir)
	return am, nil
}

// Register loaders for each asset type
func (am *AssetManager) registerLoader(assetType metadata.ResourceType, loader Loader) {
	am.loaders[assetType] = loader
}

// Watch starts reporting modified shaders on Changes.
func (am *AssetManager) Watch() error {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	if am.isClosed {
		return errors.New("asset manager already closed")
	}
	if am.fsnotify != nil {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create watcher")
	}
	am.fsnotify = w
	if err := am.watchRecursive(am.dir); err != nil {
		_ = w.Close()
		am.fsnotify = nil
		return err
	}
	am.wg.Add(1)
	go am.start()
	return nil
}

// Changes delivers shaders whose file was created or rewritten while watching.
func (am *AssetManager) Changes() <-chan AssetInfo {
	return am.changes
}

// ShaderPath returns the file a shader is loaded from.
func (am *AssetManager) ShaderPath(name string, stage metadata.ShaderStage) string {
	return filepath.Join(am.dir, fmt.Sprintf("%s.%s%s", name, stageSuffix(stage), ShaderExtension))
}

// LoadShader reads <dir>/<name>.<stage>.spv.
func (am *AssetManager) LoadShader(name string, stage metadata.ShaderStage) (*metadata.Resource, error) {
	path := am.ShaderPath(name, stage)

	am.mutex.Lock()
	asset, exists := am.assets[path]
	if exists {
		asset.LastLoaded = time.Now()
		am.assets[path] = asset
	}
	am.mutex.Unlock()
	if !exists {
		err := errors.Errorf("asset not found: %s", path)
		core.LogError(err.Error())
		return nil, err
	}

	loader, loaderExists := am.loaders[asset.Type]
	if !loaderExists {
		return nil, errors.Errorf("no loader registered for asset type: %s", asset.Type)
	}
	r, err := loader.Load(path, asset.Type, nil)
	if err != nil {
		return nil, err
	}
	r.Name = name
	return r, nil
}

func (am *AssetManager) UnloadAsset(r *metadata.Resource) error {
	loader, ok := am.loaders[r.Type]
	if !ok {
		return errors.Errorf("no loader registered for asset type: %s", r.Type)
	}
	return loader.Unload(r)
}

// Assets returns the indexed assets ordered by path.
func (am *AssetManager) Assets() []AssetInfo {
	am.mutex.RLock()
	out := make([]AssetInfo, 0, len(am.assets))
	for _, a := range am.assets {
		out = append(out, a)
	}
	am.mutex.RUnlock()
	slices.SortFunc(out, func(a, b AssetInfo) int { return strings.Compare(a.Path, b.Path) })
	return out
}

// Shutdown stops watching and closes Changes.
func (am *AssetManager) Shutdown() error {
	am.mutex.Lock()
	if am.isClosed {
		am.mutex.Unlock()
		return nil
	}
	am.isClosed = true
	watching := am.fsnotify != nil
	am.mutex.Unlock()

	if watching {
		close(am.done)
		am.wg.Wait()
	}
	close(am.changes)
	return nil
}

func (am *AssetManager) start() {
	defer am.wg.Done()
	for {
		select {
		case e, ok := <-am.fsnotify.Events:
			if !ok {
				return
			}
			am.handleEvent(e)

		case err, ok := <-am.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError(err.Error())

		case <-am.done:
			am.fsnotify.Close()
			return
		}
	}
}

func (am *AssetManager) handleEvent(e fsnotify.Event) {
	if e.Has(fsnotify.Create) {
		if s, err := os.Stat(e.Name); err == nil && s.IsDir() {
			am.mutex.Lock()
			if err := am.watchRecursive(e.Name); err != nil {
				core.LogWarn("failed to watch %s: %s", e.Name, err)
			}
			am.mutex.Unlock()
			return
		}
	}
	// Handle create or modify events
	if e.Has(fsnotify.Create) || e.Has(fsnotify.Write) {
		info, ok := am.handleFileEvent(e.Name)
		if !ok {
			return
		}
		core.LogInfo("Shader %s (%s) changed on disk.", info.Name, info.Stage)
		select {
		case am.changes <- info:
		case <-am.done:
		}
		return
	}
	if e.Has(fsnotify.Remove) || e.Has(fsnotify.Rename) {
		am.removeAsset(e.Name)
	}
}

func (am *AssetManager) index(dir string) error {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			am.handleFileEvent(path)
		}
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "index %s", dir)
	}
	return nil
}

// watchRecursive adds all directories under the given one to the watch list.
func (am *AssetManager) watchRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return am.fsnotify.Add(path)
		}
		return nil
	})
}

// Handle the creation or modification of a file
func (am *AssetManager) handleFileEvent(path string) (AssetInfo, bool) {
	name, stage, ok := parseShaderFileName(filepath.Base(path))
	if !ok {
		return AssetInfo{}, false
	}
	info := AssetInfo{
		Name:  name,
		Path:  path,
		Type:  metadata.ResourceTypeShader,
		Stage: stage,
	}

	am.mutex.Lock()
	defer am.mutex.Unlock()
	if prev, exists := am.assets[path]; exists {
		info.LastLoaded = prev.LastLoaded
	}
	am.assets[path] = info
	return info, true
}

// Remove the asset from the index if it was deleted
func (am *AssetManager) removeAsset(path string) {
	am.mutex.Lock()
	defer am.mutex.Unlock()

	delete(am.assets, path)
}

// parseShaderFileName splits "<name>.<stage>.spv".
func parseShaderFileName(base string) (string, metadata.ShaderStage, bool) {
	if filepath.Ext(base) != ShaderExtension {
		return "", 0, false
	}
	trimmed := strings.TrimSuffix(base, ShaderExtension)
	dot := strings.LastIndexByte(trimmed, '.')
	if dot <= 0 {
		return "", 0, false
	}
	stage, err := metadata.ParseShaderStage(trimmed[dot+1:])
	if err != nil {
		return "", 0, false
	}
	return trimmed[:dot], stage, true
}

func stageSuffix(stage metadata.ShaderStage) string {
	switch stage {
	case metadata.ShaderStageVertex:
		return "vert"
	case metadata.ShaderStageGeometry:
		return "geom"
	case metadata.ShaderStageFragment:
		return "frag"
	case metadata.ShaderStageCompute:
		return "comp"
	}
	return stage.String()
}
