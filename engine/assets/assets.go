// Package assets indexes the shader and image files under a directory and
// reports their changes while the player runs.
package assets

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spaghettifunk/gpuctx/engine/assets/loaders"
	"github.com/spaghettifunk/gpuctx/engine/core"
	"github.com/spaghettifunk/gpuctx/engine/gpu/shader"
)

var errClosed = errors.New("asset manager already closed")

type AssetInfo struct {
	Path     string
	Type     AssetType
	Modified time.Time
}

type AssetManager struct {
	root    string
	assets  map[string]AssetInfo
	loaders map[AssetType]Loader

	mutex sync.RWMutex

	done     chan struct{}
	stopped  chan struct{}
	fsnotify *fsnotify.Watcher
	started  bool
	isClosed bool
}

func NewAssetManager() (*AssetManager, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %v: %w", err, core.ErrExternal)
	}
	return &AssetManager{
		assets:   make(map[string]AssetInfo),
		loaders:  make(map[AssetType]Loader),
		fsnotify: fsWatch,
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}, nil
}

// Initialize indexes dir and starts watching it. Changes of indexed shader
// files fire EVENT_CODE_SHADER_CHANGED with the program path.
func (am *AssetManager) Initialize(dir string) error {
	am.root = dir
	am.registerLoader(AssetTypeShader, &loaders.ShaderLoader{})
	am.registerLoader(AssetTypeImage, &loaders.ImageLoader{FlipY: true})

	if err := am.watchRecursive(dir, false); err != nil {
		return err
	}
	am.mutex.Lock()
	am.started = true
	am.mutex.Unlock()
	go am.start()
	return nil
}

func (am *AssetManager) Close() error {
	am.mutex.Lock()
	if am.isClosed {
		am.mutex.Unlock()
		return errClosed
	}
	am.isClosed = true
	started := am.started
	am.mutex.Unlock()
	if !started {
		return am.fsnotify.Close()
	}
	close(am.done)
	<-am.stopped
	return nil
}

func (am *AssetManager) registerLoader(t AssetType, loader Loader) {
	am.loaders[t] = loader
}

// Assets lists the indexed files of type t.
func (am *AssetManager) Assets(t AssetType) []AssetInfo {
	am.mutex.RLock()
	defer am.mutex.RUnlock()
	var out []AssetInfo
	for _, a := range am.assets {
		if a.Type == t {
			out = append(out, a)
		}
	}
	return out
}

// LoadShader reads the stages of the program name, relative to the watched
// directory.
func (am *AssetManager) LoadShader(name string) (shader.Source, error) {
	v, err := am.load(AssetTypeShader, filepath.Join(am.root, name))
	if err != nil {
		return shader.Source{}, err
	}
	return v.(shader.Source), nil
}

// LoadImage decodes the image file name, relative to the watched directory.
func (am *AssetManager) LoadImage(name string) (*image.RGBA, error) {
	v, err := am.load(AssetTypeImage, filepath.Join(am.root, name))
	if err != nil {
		return nil, err
	}
	return v.(*image.RGBA), nil
}

// programName returns the name LoadShader takes for a stage file.
func (am *AssetManager) programName(path string) string {
	name := filepath.Join(filepath.Dir(path), loaders.ProgramName(path))
	if rel, err := filepath.Rel(am.root, name); err == nil {
		return filepath.ToSlash(rel)
	}
	return name
}

func (am *AssetManager) load(t AssetType, path string) (any, error) {
	loader, ok := am.loaders[t]
	if !ok {
		return nil, fmt.Errorf("no loader registered for asset type %s: %w", t, core.ErrUnsupported)
	}
	return loader.Load(path)
}

func (am *AssetManager) start() {
	defer close(am.stopped)
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
			core.LogError("asset watcher: %v", err)

		case <-am.done:
			am.fsnotify.Close()
			return
		}
	}
}

func (am *AssetManager) handleEvent(e fsnotify.Event) {
	if s, err := os.Stat(e.Name); err == nil && s.IsDir() {
		if e.Op&fsnotify.Create != 0 {
			if err := am.watchRecursive(e.Name, false); err != nil {
				core.LogWarn("watch %s: %v", e.Name, err)
			}
		}
		return
	}
	switch {
	case e.Op&(fsnotify.Create|fsnotify.Write) != 0:
		if info, ok := am.handleFileEvent(e.Name); ok && info.Type == AssetTypeShader {
			core.EventFire(core.EVENT_CODE_SHADER_CHANGED, am, core.EventContext{Path: am.programName(info.Path)})
		}
	case e.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		am.removeAsset(e.Name)
	}
}

// watchRecursive adds all directories under the given one to the watch
// list, and indexes their files.
func (am *AssetManager) watchRecursive(path string, unWatch bool) error {
	return filepath.Walk(path, func(walkPath string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !fi.IsDir() {
			am.handleFileEvent(walkPath)
			return nil
		}
		if unWatch {
			return am.fsnotify.Remove(walkPath)
		}
		if err := am.fsnotify.Add(walkPath); err != nil {
			return fmt.Errorf("watch %s: %v: %w", walkPath, err, core.ErrExternal)
		}
		return nil
	})
}

func (am *AssetManager) handleFileEvent(path string) (AssetInfo, bool) {
	t := determineAssetType(path)
	if t == AssetTypeNone {
		return AssetInfo{}, false
	}
	info := AssetInfo{Path: path, Type: t, Modified: time.Now()}
	am.mutex.Lock()
	am.assets[path] = info
	am.mutex.Unlock()
	return info, true
}

func (am *AssetManager) removeAsset(path string) {
	am.mutex.Lock()
	defer am.mutex.Unlock()
	delete(am.assets, path)
}

func determineAssetType(path string) AssetType {
	if loaders.ProgramName(path) != "" {
		return AssetTypeShader
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png", ".jpg", ".jpeg", ".bmp", ".tiff", ".webp":
		return AssetTypeImage
	}
	return AssetTypeNone
}
