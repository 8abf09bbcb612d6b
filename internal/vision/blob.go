package vision

import (
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"
)

// BlobFromMat converts a BGR Mat into NCHW RGB float data holding
// (v - mean) * scale, the way cv2.dnn.blobFromImage does.
func BlobFromMat(mat gocv.Mat, scale, mean float64) ([]float32, error) {
	if mat.Empty() {
		return nil, ErrEmptyFrame
	}
	blob := gocv.BlobFromImage(mat, scale, image.Pt(mat.Cols(), mat.Rows()),
		gocv.NewScalar(mean, mean, mean, 0), true, false)
	defer blob.Close()

	data := bytesToFloat32(blob.ToBytes())
	if want := 3 * mat.Rows() * mat.Cols(); len(data) != want {
		return nil, fmt.Errorf("blob holds %d values, want %d", len(data), want)
	}
	return data, nil
}

// Blob is BlobFromMat for a Frame
func (f Frame) Blob(scale, mean float64) ([]float32, error) {
	if f.Empty() {
		return nil, ErrEmptyFrame
	}
	mat, err := f.ToMat()
	if err != nil {
		return nil, err
	}
	defer mat.Close()
	return BlobFromMat(mat, scale, mean)
}

// NormalizeChannels applies (v - mean[c]) / std[c] in place to an NCHW
// blob with three channel planes.
func NormalizeChannels(blob []float32, mean, std [3]float32) {
	plane := len(blob) / 3
	for c := 0; c < 3; c++ {
		if mean[c] == 0 && std[c] == 1 {
			continue
		}
		channel := blob[c*plane : (c+1)*plane]
		for i, v := range channel {
			channel[i] = (v - mean[c]) / std[c]
		}
	}
}

func bytesToFloat32(data []byte) []float32 {
	result := make([]float32, len(data)/4)
	for i := range result {
		bits := uint32(data[i*4]) | uint32(data[i*4+1])<<8 | uint32(data[i*4+2])<<16 | uint32(data[i*4+3])<<24
		result[i] = math.Float32frombits(bits)
	}
	return result
}
