// Package movie writes decoded luminance frames into an MJPEG AVI file
// through a GStreamer pipeline:
//
//	appsrc(GRAY8) → videoconvert → jpegenc → avimux → filesink
//
// Frames are pushed with presentation timestamps derived from the movie
// framerate, not from capture time, so a 2000 fps capture plays back in
// slow motion at the movie rate.
//
// The package links against GStreamer 1.x through cgo and needs the base
// and good plugin sets (videoconvert, jpegenc, avimux) at runtime.
package movie
