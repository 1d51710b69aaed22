package datasets

import "fmt"

// ClassSet is the ordered list of label names a dataset annotates.
type ClassSet struct {
	// Name identifies the set, e.g. "voc".
	Name string
	// Classes are indexed by label value.
	Classes []string
}

// ClassName returns the name of a label, or "class_<i>" when the set does
// not name it.
func (s ClassSet) ClassName(i int) string {
	if i >= 0 && i < len(s.Classes) {
		return s.Classes[i]
	}
	return fmt.Sprintf("class_%d", i)
}

// VOCClasses is the 20 Pascal VOC classes + "background" at index 0.
var VOCClasses = ClassSet{
	Name: "voc",
	Classes: []string{
		"background",
		"aeroplane",
		"bicycle",
		"bird",
		"boat",
		"bottle",
		"bus",
		"car",
		"cat",
		"chair",
		"cow",
		"diningtable",
		"dog",
		"horse",
		"motorbike",
		"person",
		"pottedplant",
		"sheep",
		"sofa",
		"train",
		"tvmonitor",
	},
}

// CityscapesClasses is the 19 Cityscapes evaluation classes in train-id
// order.
var CityscapesClasses = ClassSet{
	Name: "cityscapes",
	Classes: []string{
		"road",
		"sidewalk",
		"building",
		"wall",
		"fence",
		"pole",
		"traffic light",
		"traffic sign",
		"vegetation",
		"terrain",
		"sky",
		"person",
		"rider",
		"car",
		"truck",
		"bus",
		"train",
		"motorcycle",
		"bicycle",
	},
}

// cityscapesTrainIDs maps Cityscapes label ids to train ids. Ids absent from
// the map are not evaluated.
var cityscapesTrainIDs = map[int32]int32{
	7: 0, 8: 1, 11: 2, 12: 3, 13: 4, 17: 5, 19: 6, 20: 7, 21: 8, 22: 9,
	23: 10, 24: 11, 25: 12, 26: 13, 27: 14, 28: 15, 31: 16, 32: 17, 33: 18,
}
