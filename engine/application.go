package engine

type ApplicationConfig struct {
	// The application name used in windowing, if applicable.
	Name string
	// Window starting position, if applicable.
	StartPosX int
	StartPosY int
	// TOML file holding the context configuration. Empty uses the defaults.
	ConfigPath string
	// Directory watched for shaders and images.
	AssetsDir string
	// Frames stops the player after that many frames when non-zero.
	Frames int
	// CapturePath receives the last frame of an offscreen run as a BMP file.
	CapturePath string
}
