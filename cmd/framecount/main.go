// Command framecount connects to a network camera, decodes a number of video
// frames and reports how long it took.
//
//	framecount --url rtsp://10.0.0.5:554/stream1 --username admin 250
//	FRAMECOUNT_CAMERA_PASSWORD=... framecount --config camera.yaml 100
//	framecount describe --url rtsp://10.0.0.5:554/stream1
//
// Exit status is 0 when the frames were decoded (or the stream ended after at
// least one), 1 when the count failed and 2 on usage or configuration errors.
package main

import (
	"os"
)

func main() {
	os.Exit(run(os.Args[1:], newApp(os.Stdout, os.Stderr)))
}
