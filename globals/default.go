package globals

import "github.com/hashicorp/go-hclog"

var AppLogger = hclog.New(&hclog.LoggerOptions{
	Name:  "quietpages",
	Level: hclog.LevelFromString("DEBUG"),
})
