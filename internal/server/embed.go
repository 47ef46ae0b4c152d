package server

import (
	"embed"
	"io/fs"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

//go:embed all:dist
var embedFS embed.FS

// GetAssetsFS returns the assets filesystem
func GetAssetsFS() http.FileSystem {
	// dist/assets のサブディレクトリを取得
	assetsFS, err := fs.Sub(embedFS, "dist/assets")
	if err != nil {
		log.Fatal().Err(err).Msg("埋め込みアセットファイルシステムの作成に失敗")
	}
	return http.FS(assetsFS)
}

// getIndexHTML returns the index.html content as bytes
func getIndexHTML() []byte {
	data, err := embedFS.ReadFile("dist/index.html")
	if err != nil {
		log.Fatal().Err(err).Msg("埋め込みindex.htmlの読み込みに失敗")
	}
	return data
}

// serveIndex は操作画面を返す
func serveIndex(c *gin.Context) {
	c.Data(http.StatusOK, "text/html; charset=utf-8", getIndexHTML())
}
