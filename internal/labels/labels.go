// Package labels maps detector class ids to COCO class names.
package labels

import "fmt"

var coco = [...]string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck", "boat", "traffic light",
	"fire hydrant", "stop sign", "parking meter", "bench", "bird", "cat", "dog", "horse", "sheep", "cow",
	"elephant", "bear", "zebra", "giraffe", "backpack", "umbrella", "handbag", "tie", "suitcase", "frisbee",
	"skis", "snowboard", "sports ball", "kite", "baseball bat", "baseball glove", "skateboard", "surfboard", "tennis racket", "bottle",
	"wine glass", "cup", "fork", "knife", "spoon", "bowl", "banana", "apple", "sandwich", "orange",
	"broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair", "couch", "potted plant", "bed",
	"dining table", "toilet", "tv", "laptop", "mouse", "remote", "keyboard", "cell phone", "microwave", "oven",
	"toaster", "sink", "refrigerator", "book", "clock", "vase", "scissors", "teddy bear", "hair drier", "toothbrush",
}

// Count is the number of known class names.
const Count = len(coco)

// Name returns the COCO name for id, or "cls<id>" for unknown ids.
func Name(id uint32) string {
	if int(id) < len(coco) {
		return coco[id]
	}
	return fmt.Sprintf("cls%d", id)
}

// ID returns the class id for name.
func ID(name string) (uint32, bool) {
	for i, n := range coco {
		if n == name {
			return uint32(i), true
		}
	}
	return 0, false
}
