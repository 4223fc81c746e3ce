package main

import "time"

const shutdownTimeout = 5 * time.Second
