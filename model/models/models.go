package models

import (
	_ "github.com/maskdetect/maskdetect/model/models/facemask"
)
