package inference

// DoodleClasses are the labels of the doodle classifier.
var DoodleClasses = []string{
	"cat", "dog", "bird", "fish", "tree", "flower", "house", "car", "bicycle", "airplane",
	"boat", "umbrella", "cup", "chair", "table", "book", "clock", "computer", "phone", "apple",
	"banana", "sun", "moon", "star", "cloud", "mountain", "face", "eye", "hand", "heart",
}

// DigitClasses are the labels of the handwritten digit classifier.
var DigitClasses = []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9"}

// ClassSet returns the label list for a named class set ("doodle" or
// "digit").
func ClassSet(name string) ([]string, bool) {
	switch name {
	case "", "doodle":
		return DoodleClasses, true
	case "digit":
		return DigitClasses, true
	default:
		return nil, false
	}
}
