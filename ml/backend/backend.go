package backend

import (
	_ "github.com/maskdetect/maskdetect/ml/backend/cpu"
)
