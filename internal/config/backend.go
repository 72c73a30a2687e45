package config

// ConfigBackend is the platform store for non-secret settings. Values are
// read back as strings and parsed by the key's declared type; Set keeps the
// native type where the platform supports one.
type ConfigBackend interface {
	Get(key string) (val string, ok bool, err error)
	Set(key string, val any) error
	Delete(key string) error
}
