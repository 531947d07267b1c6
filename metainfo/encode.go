package metainfo

import (
	"crypto/sha1"

	"github.com/lvbealr/torrentd/bencode"
	"github.com/lvbealr/torrentd/ids"
)

// infoValue builds the canonical (sorted-key) bencode.Value for the
// info dictionary, the same subtree whose encoding Parse hashes to
// obtain InfoHash.
func (f *File) infoValue() bencode.Value {
	entries := []bencode.DictEntry{
		{Key: []byte("piece length"), Value: bencode.NewInt(f.Info.PieceLength)},
		{Key: []byte("pieces"), Value: bencode.NewBytes([]byte(f.Info.Pieces))},
		{Key: []byte("name"), Value: bencode.NewBytes([]byte(f.Info.Name))},
	}
	if len(f.Info.Files) > 0 {
		var files []bencode.Value
		for _, fe := range f.Info.Files {
			pathList := make([]bencode.Value, len(fe.Path))
			for i, p := range fe.Path {
				pathList[i] = bencode.NewBytes([]byte(p))
			}
			fileEntries := []bencode.DictEntry{
				{Key: []byte("length"), Value: bencode.NewInt(fe.Length)},
				{Key: []byte("path"), Value: bencode.NewList(pathList)},
			}
			if fe.MD5Sum != "" {
				fileEntries = append(fileEntries, bencode.DictEntry{Key: []byte("md5sum"), Value: bencode.NewBytes([]byte(fe.MD5Sum))})
			}
			files = append(files, bencode.NewDict(fileEntries))
		}
		entries = append(entries, bencode.DictEntry{Key: []byte("files"), Value: bencode.NewList(files)})
	} else {
		entries = append(entries, bencode.DictEntry{Key: []byte("length"), Value: bencode.NewInt(f.Info.Length)})
	}
	if f.Info.Private != 0 {
		entries = append(entries, bencode.DictEntry{Key: []byte("private"), Value: bencode.NewInt(int64(f.Info.Private))})
	}
	return bencode.NewDict(entries)
}

// InfoBytes returns the canonical encoding of the info dictionary
// alone — the exact bytes a UtMetadata exchange transfers and whose
// sha1 is the torrent's info-hash.
func (f *File) InfoBytes() []byte {
	return bencode.Encode(f.infoValue())
}

// Encode serializes f to canonical bencode, the way a compliant peer
// or tracker expects to read it back, and (re-)computes f.InfoHash
// from the exact bytes of the encoded info dictionary — mirroring how
// Parse derives InfoHash from an existing file rather than trusting a
// caller-supplied value.
func (f *File) Encode() ([]byte, error) {
	infoVal := f.infoValue()
	sum := sha1.Sum(bencode.Encode(infoVal))
	h, err := ids.InfoHashFromBytes(sum[:])
	if err != nil {
		return nil, err
	}
	f.InfoHash = h

	entries := []bencode.DictEntry{
		{Key: []byte("info"), Value: infoVal},
	}
	if f.Announce != "" {
		entries = append(entries, bencode.DictEntry{Key: []byte("announce"), Value: bencode.NewBytes([]byte(f.Announce))})
	}
	if f.Comment != "" {
		entries = append(entries, bencode.DictEntry{Key: []byte("comment"), Value: bencode.NewBytes([]byte(f.Comment))})
	}
	if f.CreatedBy != "" {
		entries = append(entries, bencode.DictEntry{Key: []byte("created by"), Value: bencode.NewBytes([]byte(f.CreatedBy))})
	}
	if f.CreationDate != 0 {
		entries = append(entries, bencode.DictEntry{Key: []byte("creation date"), Value: bencode.NewInt(f.CreationDate)})
	}
	if len(f.AnnounceList) > 0 {
		var tiers []bencode.Value
		for _, tier := range f.AnnounceList {
			var urls []bencode.Value
			for _, u := range tier {
				urls = append(urls, bencode.NewBytes([]byte(u)))
			}
			tiers = append(tiers, bencode.NewList(urls))
		}
		entries = append(entries, bencode.DictEntry{Key: []byte("announce-list"), Value: bencode.NewList(tiers)})
	}

	return bencode.Encode(bencode.NewDict(entries)), nil
}
