package cmd

import (
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/andresmejia3/silhouette/internal/client"
	"github.com/andresmejia3/silhouette/internal/mask"
	"github.com/andresmejia3/silhouette/internal/pose"
)

const (
	imgW = 200
	imgH = 400
)

// writeFixtures writes a transparent PNG mask with a torso run on the waist row
// and a matching landmarks file. Waist 40px, shoulders 80px, hips 60px+20 padding.
func writeFixtures(t *testing.T) (maskPath, landmarksPath string) {
	t.Helper()
	dir := t.TempDir()

	img := image.NewNRGBA(image.Rect(0, 0, imgW, imgH))
	for x := 80; x <= 120; x++ {
		img.Set(x, 187, color.NRGBA{R: 255, A: 255})
	}
	maskPath = filepath.Join(dir, "mask.png")
	f, err := os.Create(maskPath)
	if err != nil {
		t.Fatal(err)
	}
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	f.Close()

	lms := make(pose.Landmarks, pose.NumLandmarks)
	lms[pose.LeftShoulder] = pose.Landmark{X: 0.3, Y: 0.2}
	lms[pose.RightShoulder] = pose.Landmark{X: 0.7, Y: 0.2}
	lms[pose.LeftHip] = pose.Landmark{X: 0.35, Y: 0.6}
	lms[pose.RightHip] = pose.Landmark{X: 0.65, Y: 0.6}
	data, _ := json.Marshal(map[string]interface{}{"landmarks": []pose.Landmarks{lms}})
	landmarksPath = filepath.Join(dir, "pose.json")
	if err := os.WriteFile(landmarksPath, data, 0644); err != nil {
		t.Fatal(err)
	}
	return maskPath, landmarksPath
}

func TestValidateMeasureFlags(t *testing.T) {
	maskPath, lmPath := writeFixtures(t)
	dir := filepath.Dir(maskPath)

	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"Files", Options{MaskPath: maskPath, LandmarksPath: lmPath}, false},
		{"Image", Options{ImagePath: maskPath}, false},
		{"Nothing", Options{}, true},
		{"Both modes", Options{ImagePath: maskPath, MaskPath: maskPath, LandmarksPath: lmPath}, true},
		{"Mask without landmarks", Options{MaskPath: maskPath}, true},
		{"Missing file", Options{MaskPath: filepath.Join(dir, "nope.png"), LandmarksPath: lmPath}, true},
		{"Directory", Options{ImagePath: dir}, true},
		{"Classify with bad gender", Options{ImagePath: maskPath, Classify: true, Gender: "x", Age: 25, TopK: 3, Prompt: "p"}, true},
		{"Classify", Options{ImagePath: maskPath, Classify: true, Gender: "male", Age: 25, TopK: 3, Prompt: "p"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateMeasureFlags(&tt.opts)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateMeasureFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRunMeasureFiles(t *testing.T) {
	maskPath, lmPath := writeFixtures(t)

	var out strings.Builder
	err := runMeasure(context.Background(), Options{MaskPath: maskPath, LandmarksPath: lmPath, JSON: true}, &out)
	if err != nil {
		t.Fatalf("runMeasure failed: %v", err)
	}

	var got measureOutput
	if err := json.Unmarshal([]byte(out.String()), &got); err != nil {
		t.Fatalf("Output is not JSON: %v\n%s", err, out.String())
	}
	if got.Width != imgW || got.Height != imgH {
		t.Errorf("Expected %dx%d, got %dx%d", imgW, imgH, got.Width, got.Height)
	}
	m := got.Measurements
	if !m.Complete() {
		t.Fatalf("Expected a complete measurement, got %s", m)
	}
	if *m.WaistWidthPx != 40 {
		t.Errorf("Expected waist 40, got %d", *m.WaistWidthPx)
	}
	if *m.ShoulderWidthPx < 79.99 || *m.ShoulderWidthPx > 80.01 {
		t.Errorf("Expected shoulders 80, got %f", *m.ShoulderWidthPx)
	}
	if *m.HipWidthPx < 79.99 || *m.HipWidthPx > 80.01 {
		t.Errorf("Expected hips 80, got %f", *m.HipWidthPx)
	}
}

func TestRunMeasurePayloadMask(t *testing.T) {
	_, lmPath := writeFixtures(t)

	// An unusable payload is dropped but its dimensions still scale the joints
	p := mask.Payload{Width: imgW, Height: imgH, Encoding: mask.EncodingLabel, Data: []byte{1, 2, 3}}
	data, _ := json.Marshal(p)
	payloadPath := filepath.Join(t.TempDir(), "mask.json")
	if err := os.WriteFile(payloadPath, data, 0644); err != nil {
		t.Fatal(err)
	}

	var out strings.Builder
	if err := runMeasure(context.Background(), Options{MaskPath: payloadPath, LandmarksPath: lmPath}, &out); err != nil {
		t.Fatalf("runMeasure failed: %v", err)
	}
	text := out.String()
	if !strings.Contains(text, "Waist:     N/A px") {
		t.Errorf("Expected missing waist, got:\n%s", text)
	}
	if !strings.Contains(text, "Shoulders: 80.0 px") {
		t.Errorf("Expected shoulders 80.0, got:\n%s", text)
	}
}

// newServiceStub answers both the classifier and the recommender.
func newServiceStub(t *testing.T, bodyType string) (*httptest.Server, *[]string) {
	t.Helper()
	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		calls = append(calls, r.URL.Path+" "+string(body))
		switch r.URL.Path {
		case "/predict":
			json.NewEncoder(w).Encode(client.ClassifyResponse{BodyType: bodyType})
		case "/recommend":
			json.NewEncoder(w).Encode(client.RecommendResponse{Recommendations: []client.Recommendation{
				{ImageURL: "https://img/1.jpg", ImageLabel: "wrap-dress", Gender: "female", TotalScore: 0.9},
			}})
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestRunMeasureClassify(t *testing.T) {
	maskPath, lmPath := writeFixtures(t)
	srv, calls := newServiceStub(t, "Hourglass")

	opts := Options{
		MaskPath: maskPath, LandmarksPath: lmPath, Classify: true,
		Gender: "female", Age: 30, TopK: 3, Prompt: "casual",
		ClassifierURL: srv.URL, RecommenderURL: srv.URL,
	}
	var out strings.Builder
	if err := runMeasure(context.Background(), opts, &out); err != nil {
		t.Fatalf("runMeasure failed: %v", err)
	}

	if !strings.Contains(out.String(), "Body type: Hourglass") || !strings.Contains(out.String(), "wrap-dress") {
		t.Errorf("Unexpected output:\n%s", out.String())
	}
	if len(*calls) != 2 {
		t.Fatalf("Expected 2 service calls, got %v", *calls)
	}
	if !strings.Contains((*calls)[0], `"gender":2.0`) || !strings.Contains((*calls)[0], `"waist":40`) {
		t.Errorf("Unexpected classifier request: %s", (*calls)[0])
	}
	if !strings.Contains((*calls)[1], `"body_shape":"Hourglass"`) {
		t.Errorf("Unexpected recommender request: %s", (*calls)[1])
	}
}

func TestRunMeasureClassifyIncomplete(t *testing.T) {
	_, lmPath := writeFixtures(t)
	srv, calls := newServiceStub(t, "Hourglass")

	// A fully transparent mask leaves the waist unmeasured
	empty := image.NewNRGBA(image.Rect(0, 0, imgW, imgH))
	maskPath := filepath.Join(t.TempDir(), "empty.png")
	f, _ := os.Create(maskPath)
	png.Encode(f, empty)
	f.Close()

	opts := Options{
		MaskPath: maskPath, LandmarksPath: lmPath, Classify: true,
		Gender: "male", Age: 30, TopK: 3, Prompt: "casual",
		ClassifierURL: srv.URL, RecommenderURL: srv.URL,
	}
	err := runMeasure(context.Background(), opts, io.Discard)
	if err == nil || !strings.Contains(err.Error(), "waist") {
		t.Fatalf("Expected an incomplete measurement error naming the waist, got %v", err)
	}
	if len(*calls) != 0 {
		t.Errorf("Classifier must not be called with missing widths, got %v", *calls)
	}
}

func TestRunRecommend(t *testing.T) {
	srv, calls := newServiceStub(t, "Pear")
	c := client.New(srv.Client(), srv.URL, srv.URL)

	opts := Options{ShoulderWidth: 38, Waist: 30, Hips: 42, Gender: "female", Age: 25, TopK: 3, Prompt: "office", JSON: true}
	var out strings.Builder
	if err := runRecommend(context.Background(), c, opts, &out); err != nil {
		t.Fatalf("runRecommend failed: %v", err)
	}

	var got recommendOutput
	if err := json.Unmarshal([]byte(out.String()), &got); err != nil {
		t.Fatalf("Output is not JSON: %v", err)
	}
	if got.BodyType != "Pear" || len(got.Recommendations) != 1 {
		t.Errorf("Unexpected output: %+v", got)
	}
	if len(*calls) != 2 {
		t.Errorf("Expected classify then recommend, got %v", *calls)
	}
}

func TestRunRecommendKnownShape(t *testing.T) {
	srv, calls := newServiceStub(t, "unused")
	c := client.New(srv.Client(), srv.URL, srv.URL)

	opts := Options{BodyShape: "Rectangle", Gender: "male", Age: 40, TopK: 1, Prompt: "formal"}
	if err := runRecommend(context.Background(), c, opts, io.Discard); err != nil {
		t.Fatalf("runRecommend failed: %v", err)
	}
	if len(*calls) != 1 || !strings.HasPrefix((*calls)[0], "/recommend") {
		t.Errorf("Expected only the recommender to be called, got %v", *calls)
	}
}

func TestValidateRecommendFlags(t *testing.T) {
	base := Options{Gender: "female", Age: 25, TopK: 3, Prompt: "p"}

	tests := []struct {
		name    string
		mutate  func(o *Options)
		wantErr bool
	}{
		{"All widths", func(o *Options) { o.ShoulderWidth, o.Waist, o.Hips = 38, 30, 42 }, false},
		{"Body shape only", func(o *Options) { o.BodyShape = "Pear" }, false},
		{"Missing hips", func(o *Options) { o.ShoulderWidth, o.Waist = 38, 30 }, true},
		{"Negative waist", func(o *Options) { o.ShoulderWidth, o.Waist, o.Hips = 38, -1, 42 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := base
			tt.mutate(&o)
			err := validateRecommendFlags(&o)
			if (err != nil) != tt.wantErr {
				t.Errorf("validateRecommendFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPrintRecommendationsEmpty(t *testing.T) {
	var out strings.Builder
	printRecommendations(&out, nil)
	if !strings.Contains(out.String(), "No recommendations") {
		t.Errorf("Unexpected output: %q", out.String())
	}
}
