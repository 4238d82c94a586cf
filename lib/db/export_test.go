package db

// DropForTest abandons an instance the way a crash would: the files and the
// lock are released but nothing is persisted. Only reachable from tests.
func DropForTest(d DB) {
	s := d.(*singleDB)
	s.rwlock.Lock()
	defer s.rwlock.Unlock()
	s.closed = true
	openDBs.Delete(s.name)
	s.releaseFiles()
}
