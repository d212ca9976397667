package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"yogai/ml"
)

func main() {
	dataPath := flag.String("data", "", "training CSV (label column first, one feature per column)")
	outPath := flag.String("out", "./models/pose.json", "artifact output path")
	pose := flag.String("pose", "", "pose name stored in the artifact")
	modelType := flag.String("model", ml.ModelTypeSoftmax, "model type: softmax or decision_tree")
	epochs := flag.Int("epochs", 300, "softmax training epochs")
	learningRate := flag.Float64("lr", 0.1, "softmax learning rate")
	maxDepth := flag.Int("depth", 8, "decision tree max depth")
	testRatio := flag.Float64("split", 0.2, "held-out test ratio")
	seed := flag.Int64("seed", 42, "shuffle seed")
	flag.Parse()

	if *dataPath == "" {
		log.Fatal("data is required")
	}
	if *pose == "" {
		log.Fatal("pose is required")
	}

	featureNames, features, labels, err := loadDataset(*dataPath)
	if err != nil {
		log.Fatalf("failed to load dataset: %v", err)
	}
	log.Printf("loaded %d samples with %d features", len(features), len(featureNames))

	shuffleDataset(features, labels, *seed)
	trainX, trainY, testX, testY := splitDataset(features, labels, *testRatio)

	scaler := &ml.StandardScaler{}
	if err := scaler.Fit(trainX); err != nil {
		log.Fatalf("failed to fit scaler: %v", err)
	}
	scaledTrain, err := scaler.TransformAll(trainX)
	if err != nil {
		log.Fatalf("failed to scale training set: %v", err)
	}
	scaledTest, err := scaler.TransformAll(testX)
	if err != nil {
		log.Fatalf("failed to scale test set: %v", err)
	}

	artifact := &ml.Artifact{
		Pose:         strings.ToLower(strings.TrimSpace(*pose)),
		ModelType:    *modelType,
		FeatureNames: featureNames,
		Scaler:       scaler,
	}

	var model ml.Model
	switch *modelType {
	case ml.ModelTypeSoftmax:
		clf := ml.NewSoftmaxClassifier()
		clf.Epochs = *epochs
		clf.LearningRate = *learningRate
		if err := clf.Train(scaledTrain, trainY); err != nil {
			log.Fatalf("failed to train softmax model: %v", err)
		}
		artifact.Softmax = clf
		model = clf
	case ml.ModelTypeTree:
		tree := ml.NewDecisionTree(*maxDepth)
		if err := tree.Train(scaledTrain, trainY); err != nil {
			log.Fatalf("failed to train decision tree: %v", err)
		}
		artifact.Tree = tree
		model = tree
	default:
		log.Fatalf("unknown model type %q", *modelType)
	}

	accuracy, perClass := evaluateModel(model, scaledTest, testY)
	log.Printf("test accuracy=%.3f over %d samples", accuracy, len(scaledTest))
	for _, line := range perClass {
		log.Print(line)
	}

	if err := artifact.Validate(); err != nil {
		log.Fatalf("artifact failed validation: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(*outPath), 0o755); err != nil {
		log.Fatalf("failed to create output dir: %v", err)
	}
	if err := artifact.Save(*outPath); err != nil {
		log.Fatalf("failed to save artifact: %v", err)
	}

	fmt.Printf("artifact saved to %s\n", *outPath)
}

// loadDataset reads a CSV whose header is "label,<feature>,..." and
// whose rows carry the class label followed by float features.
func loadDataset(path string) ([]string, [][]float64, []string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, nil, nil, err
	}
	if len(rows) < 2 {
		return nil, nil, nil, fmt.Errorf("dataset %s has no sample rows", path)
	}

	header := rows[0]
	if len(header) < 2 || !strings.EqualFold(header[0], "label") {
		return nil, nil, nil, fmt.Errorf("first column must be label, got %q", header[0])
	}
	featureNames := make([]string, len(header)-1)
	copy(featureNames, header[1:])

	features := make([][]float64, 0, len(rows)-1)
	labels := make([]string, 0, len(rows)-1)
	for i, row := range rows[1:] {
		if len(row) != len(header) {
			return nil, nil, nil, fmt.Errorf("row %d has %d columns, expected %d", i+2, len(row), len(header))
		}
		vector := make([]float64, len(row)-1)
		for j, cell := range row[1:] {
			value, err := strconv.ParseFloat(strings.TrimSpace(cell), 64)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("row %d column %d: %w", i+2, j+2, err)
			}
			vector[j] = value
		}
		features = append(features, vector)
		labels = append(labels, strings.TrimSpace(row[0]))
	}
	return featureNames, features, labels, nil
}

func shuffleDataset(features [][]float64, labels []string, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	rng.Shuffle(len(features), func(i, j int) {
		features[i], features[j] = features[j], features[i]
		labels[i], labels[j] = labels[j], labels[i]
	})
}

func splitDataset(features [][]float64, labels []string, testRatio float64) (trainX [][]float64, trainY []string, testX [][]float64, testY []string) {
	if testRatio <= 0 || testRatio >= 1 {
		testRatio = 0.2
	}

	split := int(float64(len(features)) * (1 - testRatio))
	if split < 1 {
		split = 1
	}
	for i := range features {
		if i < split {
			trainX = append(trainX, features[i])
			trainY = append(trainY, labels[i])
		} else {
			testX = append(testX, features[i])
			testY = append(testY, labels[i])
		}
	}
	return trainX, trainY, testX, testY
}

// evaluateModel reports overall accuracy plus per-class precision and
// recall, one formatted line per class.
func evaluateModel(model ml.Model, testX [][]float64, testY []string) (float64, []string) {
	if len(testX) == 0 {
		return 0, nil
	}

	correct := 0
	truePositive := make(map[string]int)
	predicted := make(map[string]int)
	actual := make(map[string]int)

	for i, vector := range testX {
		label, _, err := model.Predict(vector)
		if err != nil {
			continue
		}
		predicted[label]++
		actual[testY[i]]++
		if label == testY[i] {
			correct++
			truePositive[label]++
		}
	}

	classes := make([]string, 0, len(actual))
	for class := range actual {
		classes = append(classes, class)
	}
	sort.Strings(classes)

	lines := make([]string, 0, len(classes))
	for _, class := range classes {
		precision := 0.0
		if predicted[class] > 0 {
			precision = float64(truePositive[class]) / float64(predicted[class])
		}
		recall := 0.0
		if actual[class] > 0 {
			recall = float64(truePositive[class]) / float64(actual[class])
		}
		lines = append(lines, fmt.Sprintf("class %s: precision=%.3f recall=%.3f support=%d", class, precision, recall, actual[class]))
	}
	return float64(correct) / float64(len(testX)), lines
}
