// Package domain contains the shared types exchanged between the intent
// router, the attention gate and their collaborators. Types here are plain
// data carriers: they hold no behaviour beyond cloning and validation so that
// every component can depend on them without import cycles.
package domain
