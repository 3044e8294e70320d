package main

import (
	"github.com/lloydmeta/feedsync/app/cmd"
	_ "github.com/lloydmeta/feedsync/docs"
)

func main() {
	cmd.Execute()
}

// @title feedsync API
// @version 0.0.1
// @description Cursor-paged reads over incrementally materialised feeds

// @license.name Apache 2.0
// @license.url http://www.apache.org/licenses/LICENSE-2.0.html
// @host localhost:8080
// @securityDefinitions.basic BasicAuth
// @BasePath /
