package heightmap

var BatchFailuresTotal = batchFailuresTotal
