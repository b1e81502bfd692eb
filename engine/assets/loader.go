package assets

// Loader reads one kind of asset from disk.
type Loader interface {
	Load(path string) (any, error)
}

type AssetType uint8

const (
	AssetTypeNone AssetType = iota
	AssetTypeShader
	AssetTypeImage
)

func (t AssetType) String() string {
	switch t {
	case AssetTypeShader:
		return "shader"
	case AssetTypeImage:
		return "image"
	}
	return "none"
}
