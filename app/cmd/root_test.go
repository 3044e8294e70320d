package cmd

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lloydmeta/feedsync/internal/config"
)

func Test_initConfig(t *testing.T) {
	if wd, err := os.Getwd(); err != nil {
		t.Error(err)
	} else {
		configFile = wd + "/../../config/feedsync.example.yaml"
	}
	initConfig()
	assert.EqualValues(t, "passw0rd", appConfig.Elasticsearch.User.Password)
	assert.Equal(t, config.SequenceCounter, appConfig.Sequence.Backend)
	assert.Equal(t, config.PartitionSqlite, appConfig.Partition.Backend)
	assert.Equal(t, 10*time.Second, appConfig.ShutdownTimeout)
	if assert.Len(t, appConfig.Feeds, 2) {
		assert.Equal(t, "products", appConfig.Feeds[0].Name)
		assert.Equal(t, []string{"snapshot"}, appConfig.Feeds[1].MutableColumns)
	}
}

func Test_loadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile = dir + "/.env"
	assert.NoError(t, os.WriteFile(envFile, []byte("FEEDSYNC_TEST_DOTENV=loaded\n"), 0600))
	defer os.Unsetenv("FEEDSYNC_TEST_DOTENV")
	loadDotEnv()
	assert.Equal(t, "loaded", os.Getenv("FEEDSYNC_TEST_DOTENV"))

	// missing files are fine
	envFile = dir + "/missing.env"
	loadDotEnv()
}
