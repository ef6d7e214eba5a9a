package api

import (
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/ayusman/mudra/internal/capture"
	"github.com/ayusman/mudra/internal/detector"
)

// maxImageBytes bounds the request body of a detection call.
const maxImageBytes = 8 << 20

var (
	errEmptyImage  = errors.New("image is required")
	errImageFormat = errors.New("image is not valid base64")
	errImageDecode = errors.New("image could not be decoded")
)

var (
	landmarkColor   = color.RGBA{R: 255, A: 255}
	connectionColor = color.RGBA{G: 255, A: 255}
)

// DetectHandler serves POST /api/hand-detection/detect-hands. It runs the
// on-device detector on a still image so thin clients can use snapshot mode.
type DetectHandler struct {
	detector detector.Detector
	log      *zap.Logger
}

// NewDetectHandler creates a handler backed by d.
func NewDetectHandler(d detector.Detector, log *zap.Logger) *DetectHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &DetectHandler{detector: d, log: log}
}

func (h *DetectHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req detector.DetectRequest
	if err := decodeJSON(w, r, maxImageBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	frame, err := decodeImage(req.Image)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	defer frame.Close()

	hands, err := h.detector.Detect(&frame)
	if err != nil {
		h.log.Error("hand detection failed", zap.Error(err))
		if detector.IsFatal(err) {
			writeError(w, http.StatusServiceUnavailable, "Hand detector unavailable")
			return
		}
		writeError(w, http.StatusInternalServerError, "Hand detection failed")
		return
	}

	resp := detector.DetectResponse{
		Landmarks: make([][]detector.Point3D, 0, len(hands)),
		HandCount: len(hands),
	}
	for i := range hands {
		resp.Landmarks = append(resp.Landmarks, hands[i].Points[:])
	}

	if req.ReturnAnnotatedImage {
		drawHands(&frame, hands)
		jpeg, err := capture.EncodeJPEG(&frame)
		if err != nil {
			h.log.Warn("encode annotated image", zap.Error(err))
		} else {
			resp.AnnotatedImage = "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// decodeImage accepts a data URL or bare base64 and decodes it to a BGR Mat.
func decodeImage(s string) (gocv.Mat, error) {
	if s == "" {
		return gocv.Mat{}, errEmptyImage
	}
	if i := strings.Index(s, ","); i >= 0 && strings.HasPrefix(s, "data:") {
		s = s[i+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return gocv.Mat{}, errImageFormat
	}

	mat, err := gocv.IMDecode(raw, gocv.IMReadColor)
	if err != nil {
		return gocv.Mat{}, errImageDecode
	}
	if mat.Empty() {
		mat.Close()
		return gocv.Mat{}, errImageDecode
	}
	return mat, nil
}

// drawHands paints the hand skeletons onto frame in place.
func drawHands(frame *gocv.Mat, hands []detector.HandLandmarks) {
	w, h := float64(frame.Cols()), float64(frame.Rows())
	pt := func(p detector.Point3D) image.Point {
		return image.Pt(int(p.X*w), int(p.Y*h))
	}

	for i := range hands {
		for _, c := range detector.HandConnections {
			gocv.Line(frame, pt(hands[i].Points[c[0]]), pt(hands[i].Points[c[1]]), connectionColor, 2)
		}
		for _, p := range hands[i].Points {
			gocv.Circle(frame, pt(p), 4, landmarkColor, -1)
		}
	}
}
