package config

import (
	"errors"
	"path/filepath"

	"github.com/yuin/gluamapper"
	lua "github.com/yuin/gopher-lua"
)

// ErrNoTable is returned when a configuration script does not return a table
var ErrNoTable = errors.New("configuration script must return a table")

// ParseFile executes a Lua configuration script and maps the table it
// returns onto c. Fields the table omits keep their current values.
func ParseFile(fileName string, c *Config) error {
	L := lua.NewState()
	defer L.Close()

	L.OpenLibs()

	// arg[0] = config file
	arg := &lua.LTable{}
	arg.Insert(0, lua.LString(fileName))
	L.SetGlobal("arg", arg)

	if err := L.DoFile(fileName); err != nil {
		return err
	}

	table, ok := L.Get(L.GetTop()).(*lua.LTable)
	if !ok {
		return ErrNoTable
	}

	mapper := gluamapper.Mapper{Option: gluamapper.Option{
		NameFunc: func(s string) string {
			return s
		},
		TagName: "gluamapper",
	}}
	return mapper.Map(table, c)
}

// Load reads a configuration file over the defaults. A relative log
// directory is taken relative to the file.
func Load(fileName string) (*Config, error) {
	fileName, err := filepath.Abs(filepath.Clean(fileName))
	if err != nil {
		return nil, err
	}

	c := NewConfig()
	if err := ParseFile(fileName, c); err != nil {
		return nil, err
	}

	if !filepath.IsAbs(c.Logging.Directory) {
		c.Logging.Directory = filepath.Join(filepath.Dir(fileName), c.Logging.Directory)
	}
	return c, nil
}
