package sampling

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"

	"drowsewatch/internal/scoring"
)

const dataURLPrefix = "data:image/jpeg;base64,"

// ErrEmptyFrame は寸法が0のフレームを表す
var ErrEmptyFrame = errors.New("フレームの寸法が0です")

// Encoder はフレームを送信用のJPEGデータURLに変換する
type Encoder struct {
	quality int
}

// NewEncoder は指定品質 (1-100) のEncoderを作成する
func NewEncoder(quality int) *Encoder {
	if quality < 1 {
		quality = 1
	}
	if quality > 100 {
		quality = 100
	}
	return &Encoder{quality: quality}
}

// Quality はJPEG品質を返す
func (e *Encoder) Quality() int {
	return e.quality
}

// Encode はフレームを元の解像度のままRGBAバッファへ描画し、JPEGに変換する
// 切り抜きや拡大縮小は行わない
func (e *Encoder) Encode(img image.Image) (scoring.EncodedImage, error) {
	bounds := img.Bounds()
	if bounds.Dx() == 0 || bounds.Dy() == 0 {
		return scoring.EncodedImage{}, ErrEmptyFrame
	}

	raster := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(raster, raster.Bounds(), img, bounds.Min, draw.Src)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, raster, &jpeg.Options{Quality: e.quality}); err != nil {
		return scoring.EncodedImage{}, fmt.Errorf("JPEGエンコードに失敗: %w", err)
	}

	data := buf.Bytes()
	return scoring.EncodedImage{
		Data:    data,
		DataURL: dataURLPrefix + base64.StdEncoding.EncodeToString(data),
		Width:   bounds.Dx(),
		Height:  bounds.Dy(),
	}, nil
}
